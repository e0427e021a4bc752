package ladderdto

type RankingRow struct {
	Rank   int
	Name   string
	Elo    int
	Won    int
	Lost   int
	Played int
}

// Standing is one player's record in one room.
type Standing struct {
	Name   string
	Elo    int
	Won    int
	Lost   int
	Played int
}
