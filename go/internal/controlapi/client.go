package controlapi

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the control procedures of a controller host.
type Client struct {
	createRoom          *connect.Client[Empty, RoomResponse]
	resumeRoom          *connect.Client[ResumeRoomRequest, RoomResponse]
	closeRoom           *connect.Client[Empty, Empty]
	resetRoom           *connect.Client[Empty, RoomResponse]
	getState            *connect.Client[Empty, GetStateResponse]
	importContent       *connect.Client[ImportContentRequest, Empty]
	startGame           *connect.Client[StartGameRequest, Empty]
	assignLease         *connect.Client[AssignLeaseRequest, Empty]
	advanceRound        *connect.Client[AdvanceRoundRequest, Empty]
	startFinal          *connect.Client[StartFinalRequest, Empty]
	judge               *connect.Client[JudgeRequest, Empty]
	skipQuestion        *connect.Client[Empty, Empty]
	revealFinalQuestion *connect.Client[RevealFinalQuestionRequest, Empty]
	revealNextFinal     *connect.Client[Empty, RevealNextFinalResponse]
	judgeFinal          *connect.Client[JudgeFinalRequest, JudgeFinalResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		createRoom:          connect.NewClient[Empty, RoomResponse](httpClient, baseURL+CreateRoomProcedure, opts...),
		resumeRoom:          connect.NewClient[ResumeRoomRequest, RoomResponse](httpClient, baseURL+ResumeRoomProcedure, opts...),
		closeRoom:           connect.NewClient[Empty, Empty](httpClient, baseURL+CloseRoomProcedure, opts...),
		resetRoom:           connect.NewClient[Empty, RoomResponse](httpClient, baseURL+ResetRoomProcedure, opts...),
		getState:            connect.NewClient[Empty, GetStateResponse](httpClient, baseURL+GetStateProcedure, opts...),
		importContent:       connect.NewClient[ImportContentRequest, Empty](httpClient, baseURL+ImportContentProcedure, opts...),
		startGame:           connect.NewClient[StartGameRequest, Empty](httpClient, baseURL+StartGameProcedure, opts...),
		assignLease:         connect.NewClient[AssignLeaseRequest, Empty](httpClient, baseURL+AssignLeaseProcedure, opts...),
		advanceRound:        connect.NewClient[AdvanceRoundRequest, Empty](httpClient, baseURL+AdvanceRoundProcedure, opts...),
		startFinal:          connect.NewClient[StartFinalRequest, Empty](httpClient, baseURL+StartFinalProcedure, opts...),
		judge:               connect.NewClient[JudgeRequest, Empty](httpClient, baseURL+JudgeProcedure, opts...),
		skipQuestion:        connect.NewClient[Empty, Empty](httpClient, baseURL+SkipQuestionProcedure, opts...),
		revealFinalQuestion: connect.NewClient[RevealFinalQuestionRequest, Empty](httpClient, baseURL+RevealFinalQuestionProcedure, opts...),
		revealNextFinal:     connect.NewClient[Empty, RevealNextFinalResponse](httpClient, baseURL+RevealNextFinalProcedure, opts...),
		judgeFinal:          connect.NewClient[JudgeFinalRequest, JudgeFinalResponse](httpClient, baseURL+JudgeFinalProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) CreateRoom(ctx context.Context) (*RoomResponse, error) {
	return call(ctx, c.createRoom, &Empty{})
}

func (c *Client) ResumeRoom(ctx context.Context, req *ResumeRoomRequest) (*RoomResponse, error) {
	return call(ctx, c.resumeRoom, req)
}

func (c *Client) CloseRoom(ctx context.Context) error {
	_, err := call(ctx, c.closeRoom, &Empty{})
	return err
}

func (c *Client) ResetRoom(ctx context.Context) (*RoomResponse, error) {
	return call(ctx, c.resetRoom, &Empty{})
}

func (c *Client) GetState(ctx context.Context) (*GetStateResponse, error) {
	return call(ctx, c.getState, &Empty{})
}

func (c *Client) ImportContent(ctx context.Context, req *ImportContentRequest) error {
	_, err := call(ctx, c.importContent, req)
	return err
}

func (c *Client) StartGame(ctx context.Context, req *StartGameRequest) error {
	_, err := call(ctx, c.startGame, req)
	return err
}

func (c *Client) AssignLease(ctx context.Context, req *AssignLeaseRequest) error {
	_, err := call(ctx, c.assignLease, req)
	return err
}

func (c *Client) AdvanceRound(ctx context.Context, req *AdvanceRoundRequest) error {
	_, err := call(ctx, c.advanceRound, req)
	return err
}

func (c *Client) StartFinal(ctx context.Context, req *StartFinalRequest) error {
	_, err := call(ctx, c.startFinal, req)
	return err
}

func (c *Client) Judge(ctx context.Context, req *JudgeRequest) error {
	_, err := call(ctx, c.judge, req)
	return err
}

func (c *Client) SkipQuestion(ctx context.Context) error {
	_, err := call(ctx, c.skipQuestion, &Empty{})
	return err
}

func (c *Client) RevealFinalQuestion(ctx context.Context, req *RevealFinalQuestionRequest) error {
	_, err := call(ctx, c.revealFinalQuestion, req)
	return err
}

func (c *Client) RevealNextFinal(ctx context.Context) (*RevealNextFinalResponse, error) {
	return call(ctx, c.revealNextFinal, &Empty{})
}

func (c *Client) JudgeFinal(ctx context.Context, req *JudgeFinalRequest) (*JudgeFinalResponse, error) {
	return call(ctx, c.judgeFinal, req)
}
