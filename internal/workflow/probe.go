package workflow

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

// Probe confirms that the model resource exists. Nothing is read beyond that.
type Probe interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// FileProbe checks that a local model file exists.
type FileProbe struct {
	Path string
}

// Probe implements Probe.
func (p FileProbe) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(p.Path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", p.Path)
	}
	return nil
}

// HTTPProbe checks that a model resource answers with a 2xx status.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// Probe sends a HEAD request, retrying with GET when HEAD is not allowed.
func (p HTTPProbe) Probe(ctx context.Context) error {
	status, err := p.do(ctx, http.MethodHead)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed {
		if status, err = p.do(ctx, http.MethodGet); err != nil {
			return err
		}
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("failed to load model: %s returned %d %s", p.URL, status, http.StatusText(status))
	}
	return nil
}

func (p HTTPProbe) do(ctx context.Context, method string) (int, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", p.URL, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
