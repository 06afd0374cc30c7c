// Package google constructs the Google API services used by the tools.
// Services are created on first use so the server starts without
// credentials and reports ErrNotAuthenticated per call instead.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/script/v1"
	"google.golang.org/api/sheets/v4"
)

// OptionsSource supplies authenticated client options.
type OptionsSource interface {
	ClientOptions(ctx context.Context) ([]option.ClientOption, error)
}

// Factory lazily builds and caches API services.
type Factory struct {
	source OptionsSource
	extra  []option.ClientOption

	mu     sync.Mutex
	script *script.Service
	drive  *drive.Service
	sheets *sheets.Service
}

// NewFactory creates a factory. extra options are appended to the
// authenticated ones (endpoint overrides in tests).
func NewFactory(source OptionsSource, extra ...option.ClientOption) *Factory {
	return &Factory{source: source, extra: extra}
}

func (f *Factory) options(ctx context.Context) ([]option.ClientOption, error) {
	opts, err := f.source.ClientOptions(ctx)
	if err != nil {
		return nil, err
	}
	return append(append([]option.ClientOption{}, opts...), f.extra...), nil
}

// Script returns the Apps Script API service.
func (f *Factory) Script(ctx context.Context) (*script.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.script != nil {
		return f.script, nil
	}
	opts, err := f.options(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := script.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Apps Script service: %w", err)
	}
	f.script = svc
	return svc, nil
}

// Drive returns the Drive API service.
func (f *Factory) Drive(ctx context.Context) (*drive.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drive != nil {
		return f.drive, nil
	}
	opts, err := f.options(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	f.drive = svc
	return svc, nil
}

// Sheets returns the Sheets API service.
func (f *Factory) Sheets(ctx context.Context) (*sheets.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sheets != nil {
		return f.sheets, nil
	}
	opts, err := f.options(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	f.sheets = svc
	return svc, nil
}
