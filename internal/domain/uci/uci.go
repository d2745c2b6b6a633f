// Package uci кодирует и разбирает строковый протокол движка. Логика
// классификации ходов его не видит — наружу отдаются типизированные
// сообщения.
package uci

import (
	"fmt"
	"strconv"
	"strings"

	"chess_exe/internal/domain"
)

type MessageType int

const (
	MsgUnknown MessageType = iota
	MsgID
	MsgUCIOk
	MsgReadyOk
	MsgInfo
	MsgBestMove
)

type Message struct {
	Type     MessageType
	Name     string // id name ...
	Info     Info
	BestMove string
	Ponder   string
}

// Info — одно «info»-обновление поиска. Score дан со стороны ходящего в
// корневой позиции, как того требует протокол.
type Info struct {
	Depth   int
	MultiPV int
	Score   domain.Score
	Nodes   int64
	TimeMs  int
	PV      []string
	Bound   bool // lowerbound/upperbound — промежуточная оценка
}

// Parse разбирает одну строку движка. Непонятные строки возвращаются как
// MsgUnknown, их можно молча пропускать.
func Parse(line string) Message {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Message{Type: MsgUnknown}
	}

	switch fields[0] {
	case "uciok":
		return Message{Type: MsgUCIOk}
	case "readyok":
		return Message{Type: MsgReadyOk}
	case "id":
		if len(fields) > 2 && fields[1] == "name" {
			return Message{Type: MsgID, Name: strings.Join(fields[2:], " ")}
		}
		return Message{Type: MsgID}
	case "bestmove":
		msg := Message{Type: MsgBestMove}
		if len(fields) > 1 {
			msg.BestMove = fields[1]
		}
		if len(fields) > 3 && fields[2] == "ponder" {
			msg.Ponder = fields[3]
		}
		return msg
	case "info":
		return parseInfo(fields[1:])
	}

	return Message{Type: MsgUnknown}
}

func parseInfo(fields []string) Message {
	info := Info{MultiPV: 1}
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				info.Depth, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "multipv":
			if i+1 < len(fields) {
				info.MultiPV, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "score":
			if i+2 < len(fields) {
				value, _ := strconv.Atoi(fields[i+2])
				switch fields[i+1] {
				case "cp":
					info.Score = domain.Score{CP: value}
				case "mate":
					info.Score = domain.Score{Mate: value}
				}
				i += 2
			}
			if i+1 < len(fields) && (fields[i+1] == "lowerbound" || fields[i+1] == "upperbound") {
				info.Bound = true
				i++
			}
		case "nodes":
			if i+1 < len(fields) {
				info.Nodes, _ = strconv.ParseInt(fields[i+1], 10, 64)
				i++
			}
		case "time":
			if i+1 < len(fields) {
				info.TimeMs, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "pv":
			info.PV = fields[i+1:]
			i = len(fields)
		}
	}
	return Message{Type: MsgInfo, Info: info}
}

// ----- исходящие команды -----

func Position(fen string) string {
	return "position fen " + fen
}

// Go собирает команду поиска, ограниченную глубиной и/или временем.
func Go(depth, moveTimeMs int) string {
	var sb strings.Builder
	sb.WriteString("go")
	if depth > 0 {
		fmt.Fprintf(&sb, " depth %d", depth)
	}
	if moveTimeMs > 0 {
		fmt.Fprintf(&sb, " movetime %d", moveTimeMs)
	}
	if depth <= 0 && moveTimeMs <= 0 {
		sb.WriteString(" depth 12")
	}
	return sb.String()
}

func SetOption(name, value string) string {
	return fmt.Sprintf("setoption name %s value %s", name, value)
}
