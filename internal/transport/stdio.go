package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/core/provider"
	"csharp-provider/internal/shared/util"
)

const maxLineBytes = 8 << 20

// StdioConfig configures the JSON-lines adapter. Zero In/Out use the
// process's stdin and stdout.
type StdioConfig struct {
	In        io.Reader
	Out       io.Writer
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Stdio reads one request per line:
//
//	{"id": 1, "operation": "init", "args": {"location": "/src/app"}}
//
// Requests run concurrently so a long Init does not hold up Evaluate calls
// on other sessions; responses are written as they complete, tagged by id.
type Stdio struct {
	in      io.Reader
	out     io.Writer
	limiter *util.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	running bool

	writeMu sync.Mutex
	writer  *bufio.Writer
}

type request struct {
	ID        any            `json:"id,omitempty"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
}

func NewStdio(cfg StdioConfig) *Stdio {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Stdio{
		in:      cfg.In,
		out:     cfg.Out,
		limiter: util.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  cfg.Logger,
		writer:  bufio.NewWriter(cfg.Out),
	}
}

// Start serves until the input ends or ctx is cancelled, then waits for
// in-flight requests.
func (s *Stdio) Start(ctx context.Context, handler Handler) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == nil {
		return domainErrors.New(domainErrors.CodeInvalidConfig, "stdio handler is required")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	err := s.serve(ctx, handler, &wg)
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func (s *Stdio) Stop() error {
	return nil
}

func (s *Stdio) serve(ctx context.Context, handler Handler, wg *sync.WaitGroup) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			var req request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				s.write(Response{Error: &provider.ErrorBody{
					Code:    string(domainErrors.CodeInvalidConfig),
					Message: "malformed request: " + err.Error(),
				}})
				continue
			}
			if !s.limiter.Allow(1) {
				s.write(errorResponse(req.ID, throttled(req.Operation)))
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := call(ctx, handler, req.Operation, req.Args)
				if err != nil {
					s.logger.Debug("stdio request failed", "operation", req.Operation, "error", err)
					s.write(errorResponse(req.ID, err))
					return
				}
				s.write(Response{ID: req.ID, OK: true, Result: result})
			}()
		}
	}
}

func errorResponse(id any, err error) Response {
	body := provider.ErrorBodyOf(err)
	return Response{ID: id, Error: &body}
}

func (s *Stdio) write(resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := json.NewEncoder(s.writer).Encode(resp); err != nil {
		s.logger.Error("encoding stdio response", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.logger.Error("writing stdio response", "error", err)
	}
}
