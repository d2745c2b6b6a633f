package repository

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
	"chess_exe/internal/domain/uci"
	errs "chess_exe/internal/errors"
)

const (
	handshakeTimeout = 10 * time.Second
	// Настройки поиска нельзя менять сразу после завершения задачи —
	// движок может ещё дописывать вывод.
	optionCooldown = 500 * time.Millisecond
	stopDrainWait  = 500 * time.Millisecond
)

// EngineClient владеет одним долгоживущим процессом движка: пишет ему в stdin,
// читает из stdout и сопоставляет ответы единственной активной задаче.
// Очереди запросов нет — вызывающие сериализуются сами.
type EngineClient struct {
	cfg *bootstrap.Config
	log *zap.SugaredLogger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    *bufio.Writer
	running  bool
	job      *engineJob
	lastDone time.Time
	uciok    chan struct{}
	readyok  chan struct{}
}

// engineJob — одна невыполненная заявка к движку. Уничтожается при ответе,
// ошибке или таймауте.
type engineJob struct {
	id    string
	lines map[int]domain.PvLine
	pv    []string
	done  chan jobResult
}

type jobResult struct {
	res domain.EvaluationResult
	err error
}

func NewEngineClient(cfg *bootstrap.Config, log *zap.SugaredLogger) *EngineClient {
	return &EngineClient{
		cfg: cfg,
		log: log,
	}
}

// Init запускает процесс движка, если он ещё не запущен. Повторный вызов —
// no-op.
func (c *EngineClient) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.cfg.EnginePath)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("не удалось запустить движок %s: %w", c.cfg.EnginePath, err)
	}

	c.cmd = cmd
	c.stdin = bufio.NewWriter(stdinPipe)
	c.running = true
	c.uciok = make(chan struct{}, 1)
	c.readyok = make(chan struct{}, 1)

	go c.listen(stdoutPipe)

	c.writeLineLocked("uci")
	uciok := c.uciok
	c.mu.Unlock()

	if err := waitSignal(ctx, uciok, handshakeTimeout); err != nil {
		c.Terminate()
		return fmt.Errorf("движок не ответил на uci: %w", errs.ErrEngineProcess)
	}

	c.mu.Lock()
	if c.cfg.EngineHashMb > 0 {
		c.writeLineLocked(uci.SetOption("Hash", strconv.Itoa(c.cfg.EngineHashMb)))
	}
	if c.cfg.EngineThreads > 0 {
		c.writeLineLocked(uci.SetOption("Threads", strconv.Itoa(c.cfg.EngineThreads)))
	}
	if c.cfg.EngineEvalFile != "" {
		c.writeLineLocked(uci.SetOption("EvalFile", c.cfg.EngineEvalFile))
	}
	c.writeLineLocked("isready")
	readyok := c.readyok
	c.mu.Unlock()

	if err := waitSignal(ctx, readyok, handshakeTimeout); err != nil {
		c.Terminate()
		return fmt.Errorf("движок не ответил на isready: %w", errs.ErrEngineProcess)
	}

	c.log.Infow("engine started", "path", c.cfg.EnginePath)
	return nil
}

func waitSignal(ctx context.Context, ch chan struct{}, timeout time.Duration) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errs.ErrEngineTimeout
	}
}

func (c *EngineClient) listen(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.dispatch(uci.Parse(scanner.Text()))
	}
	// stdout закрылся — процесс умер; висящая задача получает отказ.
	c.failJob(errs.ErrEngineProcess)
}

func (c *EngineClient) dispatch(msg uci.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case uci.MsgID:
		c.log.Debugw("engine identity", "name", msg.Name)
	case uci.MsgUCIOk:
		if c.uciok != nil {
			select {
			case c.uciok <- struct{}{}:
			default:
			}
		}
	case uci.MsgReadyOk:
		if c.readyok != nil {
			select {
			case c.readyok <- struct{}{}:
			default:
			}
		}
	case uci.MsgInfo:
		if c.job == nil || msg.Info.Bound || len(msg.Info.PV) == 0 || msg.Info.Depth == 0 {
			return
		}
		// Для каждого ранга храним последнее (самое глубокое) обновление.
		c.job.lines[msg.Info.MultiPV] = domain.PvLine{
			Move:  msg.Info.PV[0],
			Score: msg.Info.Score,
			Rank:  msg.Info.MultiPV,
		}
		if msg.Info.MultiPV == 1 {
			c.job.pv = msg.Info.PV
		}
	case uci.MsgBestMove:
		if c.job == nil {
			return
		}
		job := c.job
		c.job = nil
		c.lastDone = time.Now()

		lines := make([]domain.PvLine, 0, len(job.lines))
		for _, l := range job.lines {
			lines = append(lines, l)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].Rank < lines[j].Rank })

		job.done <- jobResult{res: domain.EvaluationResult{
			BestMove: msg.BestMove,
			Lines:    lines,
			PV:       job.pv,
		}}
	}
}

func (c *EngineClient) failJob(err error) {
	c.mu.Lock()
	job := c.job
	c.job = nil
	c.mu.Unlock()
	if job != nil {
		job.done <- jobResult{err: err}
	}
}

func (c *EngineClient) writeLineLocked(line string) {
	if c.stdin == nil {
		return
	}
	if _, err := c.stdin.WriteString(line + "\n"); err != nil {
		c.log.Errorw("engine stdin write failed", "error", err)
		return
	}
	if err := c.stdin.Flush(); err != nil {
		c.log.Errorw("engine stdin flush failed", "error", err)
	}
}

// Analyze выполняет один запрос к движку: отменяет незавершённый предыдущий,
// выставляет число вариантов, позицию и запускает поиск с ограничением по
// глубине/времени. Таймаут перезапускает процесс и возвращает
// errs.ErrEngineTimeout — вызывающий обязан считать его повторяемым.
func (c *EngineClient) Analyze(ctx context.Context, fen string, profile domain.AnalysisProfile) (domain.EvaluationResult, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return domain.EvaluationResult{}, errs.ErrEngineNotRunning
	}

	if c.job != nil {
		c.writeLineLocked("stop")
		c.mu.Unlock()
		if !c.waitJobCleared(stopDrainWait) {
			c.log.Warnw("previous engine job did not drain, restarting process")
			c.restart(ctx)
		}
		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return domain.EvaluationResult{}, errs.ErrEngineNotRunning
		}
	}

	job := &engineJob{
		id:    uuid.New().String(),
		lines: make(map[int]domain.PvLine),
		done:  make(chan jobResult, 1),
	}
	c.job = job

	multiPV := profile.MultiPV
	if multiPV <= 0 {
		multiPV = 1
	}
	c.writeLineLocked(uci.SetOption("MultiPV", strconv.Itoa(multiPV)))
	c.writeLineLocked(uci.Position(fen))
	c.writeLineLocked(uci.Go(profile.Depth, profile.MoveTimeMs))
	c.mu.Unlock()

	timeout := analyzeTimeout(profile)
	select {
	case r := <-job.done:
		if r.err != nil {
			return domain.EvaluationResult{}, r.err
		}
		return r.res, nil
	case <-ctx.Done():
		c.Stop()
		c.clearJob(job)
		return domain.EvaluationResult{}, ctx.Err()
	case <-time.After(timeout):
		c.log.Warnw("engine job timed out", "job", job.id, "depth", profile.Depth, "timeout", timeout)
		c.clearJob(job)
		c.restart(ctx)
		return domain.EvaluationResult{}, errs.ErrEngineTimeout
	}
}

// analyzeTimeout — запасной таймаут, растущий с глубиной: глубокий поиск
// получает пропорционально больше времени.
func analyzeTimeout(profile domain.AnalysisProfile) time.Duration {
	if profile.TimeoutMs > 0 {
		return time.Duration(profile.TimeoutMs) * time.Millisecond
	}
	return 5*time.Second + time.Duration(profile.Depth)*1500*time.Millisecond
}

func (c *EngineClient) waitJobCleared(limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		cleared := c.job == nil
		c.mu.Unlock()
		if cleared {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func (c *EngineClient) clearJob(job *engineJob) {
	c.mu.Lock()
	if c.job == job {
		c.job = nil
	}
	c.mu.Unlock()
}

// SetOptions применяет настройки поиска (память, потоки, сеть оценки).
// Отклоняется, пока есть активная задача или сразу после завершённой.
func (c *EngineClient) SetOptions(options []domain.EngineOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return errs.ErrEngineNotRunning
	}
	if c.job != nil || time.Since(c.lastDone) < optionCooldown {
		return errs.ErrEngineBusy
	}

	for _, opt := range options {
		c.writeLineLocked(uci.SetOption(opt.Name, opt.Value))
	}
	return nil
}

// Stop отменяет текущий поиск, не убивая процесс.
func (c *EngineClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.writeLineLocked("stop")
	}
}

// Terminate убивает процесс и сбрасывает состояние; перед дальнейшей работой
// нужен новый Init.
func (c *EngineClient) Terminate() {
	c.mu.Lock()
	cmd := c.cmd
	job := c.job
	c.cmd = nil
	c.stdin = nil
	c.job = nil
	c.running = false
	c.uciok = nil
	c.readyok = nil
	c.mu.Unlock()

	if job != nil {
		job.done <- jobResult{err: errs.ErrEngineProcess}
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func (c *EngineClient) restart(ctx context.Context) {
	c.Terminate()
	if err := c.Init(ctx); err != nil {
		c.log.Errorw("engine restart failed", "error", err)
	}
}
