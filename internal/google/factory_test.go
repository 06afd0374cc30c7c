package google

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type staticOptions struct {
	calls int
	err   error
}

func (s *staticOptions) ClientOptions(context.Context) ([]option.ClientOption, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []option.ClientOption{option.WithHTTPClient(http.DefaultClient)}, nil
}

func TestFactoryCachesServices(t *testing.T) {
	src := &staticOptions{}
	f := NewFactory(src, option.WithEndpoint("http://127.0.0.1:1/"))
	ctx := context.Background()

	s1, err := f.Script(ctx)
	require.NoError(t, err)
	s2, err := f.Script(ctx)
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	_, err = f.Drive(ctx)
	require.NoError(t, err)
	_, err = f.Sheets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestFactoryPropagatesAuthErrors(t *testing.T) {
	cause := errors.New("not authenticated")
	f := NewFactory(&staticOptions{err: cause})

	_, err := f.Script(context.Background())
	assert.ErrorIs(t, err, cause)
	_, err = f.Sheets(context.Background())
	assert.ErrorIs(t, err, cause)
}
