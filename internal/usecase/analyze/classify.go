package analyze

import (
	"math"

	"chess_exe/internal/domain"
)

// Численные пороги классификации. Подобраны на реальных партиях; тесты
// зависят от побитового совпадения вердиктов, поэтому менять их без
// перекалибровки нельзя.
const (
	bestTolerance   = 10  // потеря, при которой ход всё ещё считается лучшим
	inaccuracyBar   = 50  // cp
	mistakeBar      = 100 // cp
	blunderBar      = 200 // cp
	clearlyWinning  = 200
	clearlyLosing   = -200
	moderatelyAhead = 100
	nearEqualBand   = 60
	flipBar         = 150 // переворот оценки через ноль
	onlyMoveGap     = 150 // отрыв от второго варианта для "единственного хода"
	standoutGap     = 250
	overwhelmingBar = 600 // позиция уже выиграна, жертва ничего не стоит
	soundAfterBar   = -50
	swingBar        = 300
	mateSlipBar     = 15 // насколько можно удлинить свой мат и остаться "good"

	openingScale = 1.5 // в дебюте пороги мягче: книжная вариативность

	minorValue = 3
	majorValue = 5

	mateThreshold = domain.MateBase - 1000
)

// moveFacts — всё, что нужно для вердикта по одному ходу. Оценки даны со
// стороны ходившего.
type moveFacts struct {
	before         int
	after          int
	diff           int
	isTop          bool
	gap            int // отрыв лучшего варианта от второго
	materialDelta  int
	lookaheadDelta int
	phase          domain.Phase
	motifs         []domain.Motif
	isRecapture    bool
}

// classify реализует таблицу правил в порядке приоритета. Ход, совпавший с
// первой линией движка, никогда не опускается ниже best.
func classify(f moveFacts) domain.Classification {
	if f.isTop || f.diff <= bestTolerance {
		return bestLineVerdict(f)
	}

	// Мат остаётся матом: затянуть выигрыш — не зевок.
	if f.before >= mateThreshold && f.after >= mateThreshold {
		if f.diff <= mateSlipBar {
			return domain.ClassificationGood
		}
		return domain.ClassificationInaccuracy
	}

	// Выигранная позиция, оставшаяся выигранной, не бывает зевком.
	if f.before >= clearlyWinning && f.after >= moderatelyAhead {
		return cappedVerdict(f)
	}

	// Проигранную позицию нельзя "зевнуть" ещё раз, пока не отдан материал.
	if f.before <= clearlyLosing && f.after <= clearlyLosing && f.materialDelta > -majorValue {
		return cappedVerdict(f)
	}

	if (f.before >= flipBar && f.after <= -flipBar) ||
		(f.materialDelta <= -majorValue && f.after <= -moderatelyAhead) {
		return domain.ClassificationBlunder
	}

	// Дебютные жертвы без глубоких данных не наказываем.
	if f.phase == domain.PhaseOpening && f.materialDelta <= -minorValue && f.after > clearlyLosing {
		return domain.ClassificationGood
	}

	if f.diff >= scaledBar(blunderBar, f.phase) && f.after <= nearEqualBand {
		return domain.ClassificationBlunder
	}
	if f.diff >= scaledBar(mistakeBar, f.phase) &&
		(abs(f.before) > nearEqualBand || abs(f.after) > nearEqualBand) {
		return domain.ClassificationMistake
	}
	if f.diff >= scaledBar(inaccuracyBar, f.phase) {
		return domain.ClassificationInaccuracy
	}
	return domain.ClassificationGood
}

func cappedVerdict(f moveFacts) domain.Classification {
	switch {
	case f.diff <= scaledBar(inaccuracyBar, f.phase):
		return domain.ClassificationGood
	case f.diff <= scaledBar(mistakeBar, f.phase):
		return domain.ClassificationInaccuracy
	default:
		return domain.ClassificationMistake
	}
}

// bestLineVerdict выбирает между best, great и brilliant, когда ход совпал с
// первой линией.
func bestLineVerdict(f moveFacts) domain.Classification {
	if !f.isRecapture && f.before < overwhelmingBar && f.after >= soundAfterBar {
		bigSacrifice := f.materialDelta <= -minorValue || f.lookaheadDelta <= -minorValue
		smallSacrificeWithPunch := f.materialDelta <= -1 &&
			(len(f.motifs) > 0 || f.gap >= standoutGap)
		delayedMajorSacrifice := f.lookaheadDelta <= -majorValue &&
			(f.after >= mateThreshold || f.gap >= standoutGap)
		if bigSacrifice || smallSacrificeWithPunch || delayedMajorSacrifice {
			return domain.ClassificationBrilliant
		}
	}

	switch {
	case f.before <= clearlyLosing && f.after >= -nearEqualBand:
		// спасение из проигранной позиции
		return domain.ClassificationGreat
	case f.gap >= onlyMoveGap && f.after-f.gap <= -moderatelyAhead:
		// единственный ход, не разваливающий позицию
		return domain.ClassificationGreat
	case abs(f.before) <= nearEqualBand && f.after >= clearlyWinning && f.gap >= onlyMoveGap:
		return domain.ClassificationGreat
	case f.after-f.before >= swingBar && abs(f.before) < 400:
		return domain.ClassificationGreat
	}
	return domain.ClassificationBest
}

func scaledBar(bar int, phase domain.Phase) int {
	if phase == domain.PhaseOpening {
		return int(float64(bar) * openingScale)
	}
	return bar
}

// classifyPhase определяет фазу по номеру полухода и остаткам материала.
// Стартовый материал без королей — 78 очков.
func classifyPhase(ply, totalMaterial int) domain.Phase {
	if totalMaterial <= 26 {
		return domain.PhaseEndgame
	}
	if ply < 20 && totalMaterial >= 62 {
		return domain.PhaseOpening
	}
	return domain.PhaseMiddlegame
}

// moveAccuracy переводит потерю в балл 0–100 и снимает штраф за вердикт:
// формально дешёвый ход не получает полный балл, если он всё равно признан
// ошибкой.
func moveAccuracy(loss int, cls domain.Classification) float64 {
	if loss > 1000 {
		loss = 1000
	}
	accuracy := math.Round(100 * math.Exp(-0.002*float64(loss)))
	accuracy -= classificationPenalty(cls)
	if accuracy < 0 {
		return 0
	}
	if accuracy > 100 {
		return 100
	}
	return accuracy
}

func classificationPenalty(cls domain.Classification) float64 {
	switch cls {
	case domain.ClassificationBlunder:
		return 25
	case domain.ClassificationMistake:
		return 12
	case domain.ClassificationInaccuracy:
		return 6
	default:
		return 0
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
