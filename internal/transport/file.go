package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const (
	fileTimestampFormat = "20060102-150405.000000"
	filePerm            = 0o644
	dirPerm             = 0o755
	maxLineSize         = 16 << 20
)

// ErrMissingLogFilePath is returned when a file transport has no path.
var ErrMissingLogFilePath = errors.New("file transport requires log_file_path")

// FileConfig configures FileTransport.
type FileConfig struct {
	LogFilePath string
	// Append writes every event as one JSON line to LogFilePath. Otherwise each
	// event gets its own file named <LogFilePath>-<timestamp>.json.
	Append bool
}

// FileTransport writes events to a filesystem.
type FileTransport struct {
	fs     afero.Fs
	path   string
	append bool
	now    func() time.Time

	mu sync.Mutex
}

// NewFile builds a file transport on fs; nil means the OS filesystem.
func NewFile(fs afero.Fs, cfg FileConfig) (*FileTransport, error) {
	if strings.TrimSpace(cfg.LogFilePath) == "" {
		return nil, ErrMissingLogFilePath
	}

	if fs == nil {
		fs = afero.NewOsFs()
	}

	if dir := filepath.Dir(cfg.LogFilePath); dir != "." {
		if err := fs.MkdirAll(dir, dirPerm); err != nil {
			return nil, newError(TypeFile, false, err)
		}
	}

	return &FileTransport{
		fs:     fs,
		path:   cfg.LogFilePath,
		append: cfg.Append,
		now:    time.Now,
	}, nil
}

// Emit writes the event. Write failures are not retriable.
func (t *FileTransport) Emit(ctx context.Context, event *lineage.RunEvent) error {
	if err := ctx.Err(); err != nil {
		return newError(TypeFile, false, err)
	}

	data, err := encode(event, false)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.append {
		return t.appendLine(data)
	}

	return t.writeNew(data)
}

func (t *FileTransport) appendLine(data []byte) error {
	f, err := t.fs.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return newError(TypeFile, false, err)
	}

	_, err = f.Write(append(data, '\n'))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return newError(TypeFile, false, err)
	}

	return nil
}

func (t *FileTransport) writeNew(data []byte) error {
	base := fmt.Sprintf("%s-%s", t.path, t.now().Format(fileTimestampFormat))
	name := base + ".json"

	// Events emitted within the same microsecond get a numeric suffix.
	for i := 1; ; i++ {
		exists, err := afero.Exists(t.fs, name)
		if err != nil {
			return newError(TypeFile, false, err)
		}

		if !exists {
			break
		}

		name = fmt.Sprintf("%s-%d.json", base, i)
	}

	if err := afero.WriteFile(t.fs, name, data, filePerm); err != nil {
		return newError(TypeFile, false, err)
	}

	return nil
}

// ReadJSONLines decodes one event per non-blank line.
func ReadJSONLines(r io.Reader) ([]lineage.RunEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

	var events []lineage.RunEvent

	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		event, err := lineage.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		events = append(events, *event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	return events, nil
}

// ReadEvents loads events written by FileTransport from path: a JSON lines
// file, a single event file, or a directory of per-event .json files read in
// name order.
func ReadEvents(fs afero.Fs, path string) ([]lineage.RunEvent, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	isDir, err := afero.IsDir(fs, path)
	if err != nil {
		return nil, err
	}

	if !isDir {
		return readEventFile(fs, path)
	}

	matches, err := afero.Glob(fs, filepath.Join(path, "*.json"))
	if err != nil {
		return nil, err
	}

	slices.Sort(matches)

	var events []lineage.RunEvent

	for _, name := range matches {
		fileEvents, err := readEventFile(fs, name)
		if err != nil {
			return nil, err
		}

		events = append(events, fileEvents...)
	}

	return events, nil
}

func readEventFile(fs afero.Fs, name string) ([]lineage.RunEvent, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	events, err := ReadJSONLines(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return events, nil
}
