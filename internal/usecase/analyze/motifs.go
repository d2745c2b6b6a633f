package analyze

import (
	"github.com/notnil/chess"

	"chess_exe/internal/domain"
)

// Материальная шкала в пешках. Король в подсчёты не входит.
func pieceValue(t chess.PieceType) int {
	switch t {
	case chess.Pawn:
		return 1
	case chess.Knight, chess.Bishop:
		return 3
	case chess.Rook:
		return 5
	case chess.Queen:
		return 9
	default:
		return 0
	}
}

func materialCount(board *chess.Board) (white, black int) {
	for _, piece := range board.SquareMap() {
		v := pieceValue(piece.Type())
		if piece.Color() == chess.White {
			white += v
		} else {
			black += v
		}
	}
	return white, black
}

func totalMaterial(board *chess.Board) int {
	white, black := materialCount(board)
	return white + black
}

// materialAdvantage — материал ходившего минус материал соперника.
func materialAdvantage(board *chess.Board, mover chess.Color) int {
	white, black := materialCount(board)
	if mover == chess.White {
		return white - black
	}
	return black - white
}

// moverMaterialDelta — немедленное изменение баланса после хода: жертва даёт
// отрицательное значение, взятие без сдачи — положительное.
func moverMaterialDelta(before, after *chess.Position, mover chess.Color) int {
	return materialAdvantage(after.Board(), mover) - materialAdvantage(before.Board(), mover)
}

// lookaheadMaterialDelta проигрывает главную линию движка на maxPlies вперёд
// и возвращает изменение баланса для ходившего. Так отличается настоящая
// жертва от размена, который отыгрывается через ход.
func lookaheadMaterialDelta(before *chess.Position, pv []string, maxPlies int, mover chess.Color) int {
	pos := before
	notation := chess.UCINotation{}
	plies := 0
	for _, uciMove := range pv {
		if plies >= maxPlies {
			break
		}
		move, err := notation.Decode(pos, uciMove)
		if err != nil {
			break
		}
		next := pos.Update(move)
		if next == nil {
			break
		}
		pos = next
		plies++
	}
	return materialAdvantage(pos.Board(), mover) - materialAdvantage(before.Board(), mover)
}

var knightOffsets = [8][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2},
}

var bishopDirs = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
var rookDirs = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
var royalDirs = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

func squareAt(file, rank int) (chess.Square, bool) {
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return chess.NoSquare, false
	}
	return chess.Square(rank*8 + file), true
}

// attackedSquares перечисляет поля под боем фигуры; для дальнобойных фигур
// луч включает первое занятое поле и обрывается на нём.
func attackedSquares(board map[chess.Square]chess.Piece, sq chess.Square, piece chess.Piece) []chess.Square {
	file, rank := int(sq.File()), int(sq.Rank())
	var attacked []chess.Square

	step := func(offsets [][2]int) {
		for _, o := range offsets {
			if target, ok := squareAt(file+o[0], rank+o[1]); ok {
				attacked = append(attacked, target)
			}
		}
	}
	slide := func(dirs [][2]int) {
		for _, d := range dirs {
			for dist := 1; ; dist++ {
				target, ok := squareAt(file+d[0]*dist, rank+d[1]*dist)
				if !ok {
					break
				}
				attacked = append(attacked, target)
				if _, occupied := board[target]; occupied {
					break
				}
			}
		}
	}

	switch piece.Type() {
	case chess.Pawn:
		dir := 1
		if piece.Color() == chess.Black {
			dir = -1
		}
		for _, df := range []int{-1, 1} {
			if target, ok := squareAt(file+df, rank+dir); ok {
				attacked = append(attacked, target)
			}
		}
	case chess.Knight:
		step(knightOffsets[:])
	case chess.King:
		step(royalDirs[:])
	case chess.Bishop:
		slide(bishopDirs[:])
	case chess.Rook:
		slide(rookDirs[:])
	case chess.Queen:
		slide(royalDirs[:])
	}
	return attacked
}

func sliderDirs(t chess.PieceType) [][2]int {
	switch t {
	case chess.Bishop:
		return bishopDirs[:]
	case chess.Rook:
		return rookDirs[:]
	case chess.Queen:
		return royalDirs[:]
	default:
		return nil
	}
}

// detectMotifs ищет тактические мотивы в позиции после хода со стороны
// ходившего: вилка, связка, сквозной удар, жертва. Детектор сознательно
// грубый — он размечает позиции для повторения, а не доказывает тактику.
func detectMotifs(after *chess.Position, mover chess.Color, materialDelta, lookaheadDelta, moverAfterCP int) []domain.Motif {
	board := after.Board().SquareMap()

	var hasFork, hasPin, hasSkewer bool
	for sq, piece := range board {
		if piece.Color() != mover {
			continue
		}

		// вилка: одна фигура бьёт две ценные цели
		targets := 0
		for _, target := range attackedSquares(board, sq, piece) {
			victim, ok := board[target]
			if !ok || victim.Color() == mover {
				continue
			}
			if victim.Type() == chess.King || pieceValue(victim.Type()) >= minorValue {
				targets++
			}
		}
		if targets >= 2 {
			hasFork = true
		}

		// связка и сквозной удар: две фигуры соперника на одном луче
		for _, d := range sliderDirs(piece.Type()) {
			first, second := rayVictims(board, sq, d, mover)
			if first == chess.NoPieceType || second == chess.NoPieceType {
				continue
			}
			if second == chess.King && first != chess.King {
				hasPin = true
			}
			if first == chess.King {
				hasSkewer = true
			}
		}
	}

	var motifs []domain.Motif
	if hasFork {
		motifs = append(motifs, domain.MotifFork)
	}
	if hasPin {
		motifs = append(motifs, domain.MotifPin)
	}
	if hasSkewer {
		motifs = append(motifs, domain.MotifSkewer)
	}
	// Жертва: отдан материал, но оценка не рухнула.
	if (materialDelta <= -minorValue || lookaheadDelta <= -minorValue) && moverAfterCP >= -100 {
		motifs = append(motifs, domain.MotifSacrifice)
	}
	return motifs
}

// rayVictims возвращает типы первых двух фигур соперника на луче. Своя фигура
// на пути обрывает луч.
func rayVictims(board map[chess.Square]chess.Piece, from chess.Square, dir [2]int, mover chess.Color) (first, second chess.PieceType) {
	first, second = chess.NoPieceType, chess.NoPieceType
	file, rank := int(from.File()), int(from.Rank())
	for dist := 1; ; dist++ {
		sq, ok := squareAt(file+dir[0]*dist, rank+dir[1]*dist)
		if !ok {
			return first, second
		}
		piece, occupied := board[sq]
		if !occupied {
			continue
		}
		if piece.Color() == mover {
			return first, second
		}
		if first == chess.NoPieceType {
			first = piece.Type()
			continue
		}
		return first, piece.Type()
	}
}
