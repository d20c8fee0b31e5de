package board

// NextPlayer derives whose turn it is from the move count. A complete game has
// no next player. Turn is never stored anywhere; it always comes from here.
func NextPlayer(moveCount int, complete bool) Cell {
	if complete {
		return Empty
	}
	if moveCount%2 == 0 {
		return Player1
	}
	return Player2
}
