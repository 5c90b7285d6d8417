// Package controlapi exposes the controller's operations to the host UI as
// connect unary procedures with JSON messages.
package controlapi

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/content"
	"github.com/mcdev12/buzzer/go/internal/events"
	"github.com/mcdev12/buzzer/go/internal/game/buzzq"
	"github.com/mcdev12/buzzer/go/internal/game/controller"
	"github.com/mcdev12/buzzer/go/internal/models"
)

const ServiceName = "buzzer.control.v1.ControlService"

// Procedure paths.
const (
	CreateRoomProcedure          = "/" + ServiceName + "/CreateRoom"
	ResumeRoomProcedure          = "/" + ServiceName + "/ResumeRoom"
	CloseRoomProcedure           = "/" + ServiceName + "/CloseRoom"
	ResetRoomProcedure           = "/" + ServiceName + "/ResetRoom"
	GetStateProcedure            = "/" + ServiceName + "/GetState"
	ImportContentProcedure       = "/" + ServiceName + "/ImportContent"
	StartGameProcedure           = "/" + ServiceName + "/StartGame"
	AssignLeaseProcedure         = "/" + ServiceName + "/AssignLease"
	AdvanceRoundProcedure        = "/" + ServiceName + "/AdvanceRound"
	StartFinalProcedure          = "/" + ServiceName + "/StartFinal"
	JudgeProcedure               = "/" + ServiceName + "/Judge"
	SkipQuestionProcedure        = "/" + ServiceName + "/SkipQuestion"
	RevealFinalQuestionProcedure = "/" + ServiceName + "/RevealFinalQuestion"
	RevealNextFinalProcedure     = "/" + ServiceName + "/RevealNextFinal"
	JudgeFinalProcedure          = "/" + ServiceName + "/JudgeFinal"
)

// Controller is what the API needs from the game controller.
type Controller interface {
	CreateRoom(ctx context.Context) (*models.Room, error)
	Resume(ctx context.Context, roomID *uuid.UUID) (*models.Room, error)
	CloseRoom(ctx context.Context) error
	ResetRoom(ctx context.Context) (*models.Room, error)
	Room() (*models.Room, error)
	Play() (controller.PlayStatus, bool)
	Final() (controller.FinalStatus, bool)
	ImportContent(ctx context.Context, p *content.Pack) error
	StartGame(ctx context.Context, firstTeam *uuid.UUID) error
	AssignLease(ctx context.Context, teamID *uuid.UUID) error
	AdvanceRound(ctx context.Context, force bool, leaseTo *uuid.UUID) error
	StartFinal(ctx context.Context, force bool) error
	Judge(ctx context.Context, buzzID uuid.UUID, verdict buzzq.Verdict) error
	SkipQuestion(ctx context.Context) error
	RevealFinalQuestion(ctx context.Context, force bool) error
	RevealNextFinal(ctx context.Context) (events.FinalResponseRevealedPayload, error)
	JudgeFinal(ctx context.Context, teamID uuid.UUID, correct bool) (events.FinalJudgedPayload, error)
}

var _ Controller = (*controller.Controller)(nil)

// Service implements the control procedures.
type Service struct {
	ctrl Controller
}

func NewService(ctrl Controller) *Service {
	return &Service{ctrl: ctrl}
}

// NewHandler builds the HTTP handler for every procedure. It returns the
// path prefix to mount it on.
func NewHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(CreateRoomProcedure, connect.NewUnaryHandler(CreateRoomProcedure, s.CreateRoom, opts...))
	mux.Handle(ResumeRoomProcedure, connect.NewUnaryHandler(ResumeRoomProcedure, s.ResumeRoom, opts...))
	mux.Handle(CloseRoomProcedure, connect.NewUnaryHandler(CloseRoomProcedure, s.CloseRoom, opts...))
	mux.Handle(ResetRoomProcedure, connect.NewUnaryHandler(ResetRoomProcedure, s.ResetRoom, opts...))
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, s.GetState, opts...))
	mux.Handle(ImportContentProcedure, connect.NewUnaryHandler(ImportContentProcedure, s.ImportContent, opts...))
	mux.Handle(StartGameProcedure, connect.NewUnaryHandler(StartGameProcedure, s.StartGame, opts...))
	mux.Handle(AssignLeaseProcedure, connect.NewUnaryHandler(AssignLeaseProcedure, s.AssignLease, opts...))
	mux.Handle(AdvanceRoundProcedure, connect.NewUnaryHandler(AdvanceRoundProcedure, s.AdvanceRound, opts...))
	mux.Handle(StartFinalProcedure, connect.NewUnaryHandler(StartFinalProcedure, s.StartFinal, opts...))
	mux.Handle(JudgeProcedure, connect.NewUnaryHandler(JudgeProcedure, s.Judge, opts...))
	mux.Handle(SkipQuestionProcedure, connect.NewUnaryHandler(SkipQuestionProcedure, s.SkipQuestion, opts...))
	mux.Handle(RevealFinalQuestionProcedure, connect.NewUnaryHandler(RevealFinalQuestionProcedure, s.RevealFinalQuestion, opts...))
	mux.Handle(RevealNextFinalProcedure, connect.NewUnaryHandler(RevealNextFinalProcedure, s.RevealNextFinal, opts...))
	mux.Handle(JudgeFinalProcedure, connect.NewUnaryHandler(JudgeFinalProcedure, s.JudgeFinal, opts...))
	return "/" + ServiceName + "/", mux
}

func (s *Service) CreateRoom(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[RoomResponse], error) {
	room, err := s.ctrl.CreateRoom(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	log.Info().Str("room_id", room.ID.String()).Str("join_code", room.JoinCode).Msg("room created via api")
	return connect.NewResponse(&RoomResponse{Room: room}), nil
}

func (s *Service) ResumeRoom(ctx context.Context, req *connect.Request[ResumeRoomRequest]) (*connect.Response[RoomResponse], error) {
	roomID, err := parseOptionalID(req.Msg.RoomID)
	if err != nil {
		return nil, invalidArgument(fmt.Errorf("invalid room_id: %w", err))
	}
	room, err := s.ctrl.Resume(ctx, roomID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RoomResponse{Room: room}), nil
}

func (s *Service) CloseRoom(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.ctrl.CloseRoom(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) ResetRoom(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[RoomResponse], error) {
	room, err := s.ctrl.ResetRoom(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RoomResponse{Room: room}), nil
}

func (s *Service) GetState(_ context.Context, _ *connect.Request[Empty]) (*connect.Response[GetStateResponse], error) {
	room, err := s.ctrl.Room()
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &GetStateResponse{Room: room}
	if play, ok := s.ctrl.Play(); ok {
		resp.Play = &play
	}
	if final, ok := s.ctrl.Final(); ok {
		resp.Final = &final
	}
	return connect.NewResponse(resp), nil
}

func (s *Service) ImportContent(ctx context.Context, req *connect.Request[ImportContentRequest]) (*connect.Response[Empty], error) {
	if req.Msg.Pack == nil {
		return nil, invalidArgument(fmt.Errorf("%w: pack is required", content.ErrInvalid))
	}
	if err := req.Msg.Pack.Validate(); err != nil {
		return nil, invalidArgument(err)
	}
	if err := s.ctrl.ImportContent(ctx, req.Msg.Pack); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) StartGame(ctx context.Context, req *connect.Request[StartGameRequest]) (*connect.Response[Empty], error) {
	first, err := parseOptionalID(req.Msg.FirstTeamID)
	if err != nil {
		return nil, invalidArgument(fmt.Errorf("invalid first_team_id: %w", err))
	}
	if err := s.ctrl.StartGame(ctx, first); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) AssignLease(ctx context.Context, req *connect.Request[AssignLeaseRequest]) (*connect.Response[Empty], error) {
	teamID, err := parseOptionalID(req.Msg.TeamID)
	if err != nil {
		return nil, invalidArgument(fmt.Errorf("invalid team_id: %w", err))
	}
	if err := s.ctrl.AssignLease(ctx, teamID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) AdvanceRound(ctx context.Context, req *connect.Request[AdvanceRoundRequest]) (*connect.Response[Empty], error) {
	leaseTo, err := parseOptionalID(req.Msg.LeaseToID)
	if err != nil {
		return nil, invalidArgument(fmt.Errorf("invalid lease_to_id: %w", err))
	}
	if err := s.ctrl.AdvanceRound(ctx, req.Msg.Force, leaseTo); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) StartFinal(ctx context.Context, req *connect.Request[StartFinalRequest]) (*connect.Response[Empty], error) {
	if err := s.ctrl.StartFinal(ctx, req.Msg.Force); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) Judge(ctx context.Context, req *connect.Request[JudgeRequest]) (*connect.Response[Empty], error) {
	buzzID, err := uuid.Parse(req.Msg.BuzzID)
	if err != nil {
		return nil, invalidArgument(fmt.Errorf("invalid buzz_id: %w", err))
	}
	switch req.Msg.Verdict {
	case buzzq.VerdictCorrect, buzzq.VerdictWrong:
	default:
		return nil, invalidArgument(fmt.Errorf("unknown verdict %q", req.Msg.Verdict))
	}
	if err := s.ctrl.Judge(ctx, buzzID, req.Msg.Verdict); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) SkipQuestion(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[Empty], error) {
	if err := s.ctrl.SkipQuestion(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) RevealFinalQuestion(ctx context.Context, req *connect.Request[RevealFinalQuestionRequest]) (*connect.Response[Empty], error) {
	if err := s.ctrl.RevealFinalQuestion(ctx, req.Msg.Force); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) RevealNextFinal(ctx context.Context, _ *connect.Request[Empty]) (*connect.Response[RevealNextFinalResponse], error) {
	revealed, err := s.ctrl.RevealNextFinal(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RevealNextFinalResponse{Revealed: revealed}), nil
}

func (s *Service) JudgeFinal(ctx context.Context, req *connect.Request[JudgeFinalRequest]) (*connect.Response[JudgeFinalResponse], error) {
	teamID, err := uuid.Parse(req.Msg.TeamID)
	if err != nil {
		return nil, invalidArgument(fmt.Errorf("invalid team_id: %w", err))
	}
	judged, err := s.ctrl.JudgeFinal(ctx, teamID, req.Msg.Correct)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&JudgeFinalResponse{Judged: judged}), nil
}
