package ladderdto

import "time"

type MatchSummary struct {
	MatchID int64
	NameA   string
	NameB   string
	ScoreA  int
	ScoreB  int
	BeforeA int
	AfterA  int
	BeforeB int
	AfterB  int
}

func (m MatchSummary) ChangeA() int { return m.AfterA - m.BeforeA }
func (m MatchSummary) ChangeB() int { return m.AfterB - m.BeforeB }

type UndoSummary struct {
	MatchID  int64
	Name1    string
	Name2    string
	Before1  int
	After1   int
	Before2  int
	After2   int
	ByAdmin  bool
	PlayedAt time.Time
}
