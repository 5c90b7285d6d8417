package controlapi

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/mcdev12/buzzer/go/internal/content"
	"github.com/mcdev12/buzzer/go/internal/game/buzzq"
	"github.com/mcdev12/buzzer/go/internal/game/controller"
	"github.com/mcdev12/buzzer/go/internal/game/lease"
	"github.com/mcdev12/buzzer/go/internal/game/phase"
	"github.com/mcdev12/buzzer/go/internal/joincode"
	"github.com/mcdev12/buzzer/go/internal/store"
)

var preconditions = []error{
	controller.ErrRoomFinished,
	controller.ErrNotInLobby,
	controller.ErrNoActiveQuestion,
	controller.ErrQuestionInPlay,
	controller.ErrAlreadyJudged,
	controller.ErrTeamNotActive,
	controller.ErrWrongStage,
	controller.ErrWagersPending,
	controller.ErrNotReviewTeam,
	controller.ErrNoFinalQuestion,
	phase.ErrInvalidTransition,
	phase.ErrNotEnoughTeams,
	phase.ErrNoContent,
	phase.ErrRoundIncomplete,
	buzzq.ErrNotCurrent,
	buzzq.ErrNotPending,
	buzzq.ErrEmpty,
	lease.ErrNotLeaseHolder,
	lease.ErrQuestionAnswered,
	lease.ErrQuestionInPlay,
}

// toConnectError maps a domain error to a connect status.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, content.ErrInvalid):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, controller.ErrNoRoom), errors.Is(err, store.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, joincode.ErrExhausted):
		return connect.NewError(connect.CodeResourceExhausted, err)
	}
	for _, target := range preconditions {
		if errors.Is(err, target) {
			return connect.NewError(connect.CodeFailedPrecondition, err)
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

func invalidArgument(err error) error {
	return connect.NewError(connect.CodeInvalidArgument, err)
}
