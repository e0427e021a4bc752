package ladderpresenter

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/identity"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"github.com/park285/elo-ladder-bot/internal/league"
	"github.com/park285/elo-ladder-bot/pkg/ladderdto"
)

// PlayerName is how a player is shown in chat: the verified school nickname,
// then the Kakao display name, then the raw user id.
func PlayerName(p *domain.Player) string {
	if p == nil {
		return ""
	}
	if p.IsVerifiedStudent && strings.TrimSpace(p.SchoolNickname) != "" {
		return p.SchoolNickname
	}
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	return p.ExternalUserID
}

func ToMatchSummary(r *league.ReportResult, scoreA, scoreB int) ladderdto.MatchSummary {
	if r == nil || r.MatchOutcome == nil {
		return ladderdto.MatchSummary{}
	}
	return ladderdto.MatchSummary{
		MatchID: r.MatchID,
		NameA:   PlayerName(r.PlayerA),
		NameB:   PlayerName(r.PlayerB),
		ScoreA:  scoreA,
		ScoreB:  scoreB,
		BeforeA: r.EloBeforeA,
		AfterA:  r.EloAfterA,
		BeforeB: r.EloBeforeB,
		AfterB:  r.EloAfterB,
	}
}

func ToUndoSummary(r *league.UndoResult) ladderdto.UndoSummary {
	if r == nil || r.UndoOutcome == nil {
		return ladderdto.UndoSummary{}
	}
	out := ladderdto.UndoSummary{
		MatchID: r.MatchID,
		Name1:   PlayerName(r.Player1),
		Name2:   PlayerName(r.Player2),
		Before1: r.Player1EloBefore,
		After1:  r.Player1EloAfter,
		Before2: r.Player2EloBefore,
		After2:  r.Player2EloAfter,
		ByAdmin: r.ByAdmin,
	}
	if r.Match != nil {
		out.PlayedAt = r.Match.CreatedAt
	}
	return out
}

func ToRankingRows(entries []domain.RankingEntry) []ladderdto.RankingRow {
	rows := make([]ladderdto.RankingRow, 0, len(entries))
	for i, e := range entries {
		name := e.DisplayName
		if strings.TrimSpace(e.SchoolNickname) != "" {
			name = e.SchoolNickname
		}
		if strings.TrimSpace(name) == "" {
			name = e.ExternalUserID
		}
		rows = append(rows, ladderdto.RankingRow{
			Rank:   i + 1,
			Name:   name,
			Elo:    e.CurrentElo,
			Won:    e.MatchesWon,
			Lost:   e.MatchesLost,
			Played: e.MatchesPlayed,
		})
	}
	return rows
}

func ToStanding(name string, gp *domain.GroupPlayer) ladderdto.Standing {
	if gp == nil {
		return ladderdto.Standing{Name: name}
	}
	return ladderdto.Standing{
		Name:   name,
		Elo:    gp.CurrentElo,
		Won:    gp.MatchesWon,
		Lost:   gp.MatchesLost,
		Played: gp.MatchesPlayed,
	}
}

// ToDomainError classifies a service error into a catalog code. Anything not
// recognised is internal.
func ToDomainError(err error) ladderdto.DomainError {
	var ve *ladder.ValidationError
	switch {
	case err == nil:
		return ladderdto.DomainError{}
	case errors.As(err, &ve):
		return ladderdto.DomainError{Code: ladderdto.CodeInvalid, Message: ve.Reason}
	case errors.Is(err, ladder.ErrDuplicateMatch):
		return ladderdto.DomainError{Code: ladderdto.CodeDuplicate}
	case errors.Is(err, ladder.ErrOptimisticLock), errors.Is(err, ladder.ErrPoolExhausted):
		return ladderdto.DomainError{Code: ladderdto.CodeBusy, Retryable: true}
	case errors.Is(err, context.DeadlineExceeded):
		return ladderdto.DomainError{Code: ladderdto.CodeBusy, Retryable: true}
	case errors.Is(err, ladder.ErrAlreadyUndone):
		return ladderdto.DomainError{Code: ladderdto.CodeAlreadyUndone}
	case errors.Is(err, league.ErrNotParticipant):
		return ladderdto.DomainError{Code: ladderdto.CodeNotParticipant}
	case errors.Is(err, league.ErrUndoWindowExpired):
		return ladderdto.DomainError{Code: ladderdto.CodeUndoExpired}
	case errors.Is(err, league.ErrNotVerified):
		return ladderdto.DomainError{Code: ladderdto.CodeInactive}
	case errors.Is(err, league.ErrIdentityDisabled), errors.Is(err, identity.ErrNotConfigured):
		return ladderdto.DomainError{Code: ladderdto.CodeDisabled}
	case errors.Is(err, ladder.ErrNotFound), errors.Is(err, identity.ErrParticipantNotFound):
		return ladderdto.DomainError{Code: ladderdto.CodeNotFound}
	default:
		return ladderdto.DomainError{Code: ladderdto.CodeInternal, Message: err.Error()}
	}
}
