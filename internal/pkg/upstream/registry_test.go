package upstream

import (
	"context"
	"testing"

	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/minio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ id string }

func (s stubProvider) ID() string { return s.id }
func (s stubProvider) StartUpload(context.Context, int64) (UploadSession, error) {
	return nil, nil
}
func (s stubProvider) ReadChunk(context.Context, string, int64, int64) ([]byte, error) {
	return nil, nil
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry("", stubProvider{"b"}, stubProvider{"a"})
	require.NoError(t, err)
	assert.Equal(t, "a", r.Preferred().ID())
	assert.Equal(t, []string{"a", "b"}, r.IDs())
	assert.True(t, r.Has("b"))
	assert.False(t, r.Has("c"))

	p, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", p.ID())

	r, err = NewRegistry("b", stubProvider{"a"}, stubProvider{"b"})
	require.NoError(t, err)
	assert.Equal(t, "b", r.Preferred().ID())

	_, err = NewRegistry("c", stubProvider{"a"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewRegistry("", stubProvider{"a"}, stubProvider{"a"})
	assert.Error(t, err)

	_, err = NewRegistry("")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty", cfg: Config{}, wantErr: true},
		{
			name: "http",
			cfg:  Config{Providers: map[string]ProviderConfig{"ton": {Type: TypeHTTP, URL: "http://localhost:8080"}}},
		},
		{
			name: "type defaults to http",
			cfg:  Config{Providers: map[string]ProviderConfig{"ton": {URL: "https://ton.example.com/api"}}},
		},
		{
			name:    "bad url",
			cfg:     Config{Providers: map[string]ProviderConfig{"ton": {URL: "localhost"}}},
			wantErr: true,
		},
		{
			name: "unknown preferred",
			cfg: Config{
				Preferred: "s3",
				Providers: map[string]ProviderConfig{"ton": {URL: "http://localhost"}},
			},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cfg:     Config{Providers: map[string]ProviderConfig{"x": {Type: "ftp"}}},
			wantErr: true,
		},
		{
			name: "minio chunk too small",
			cfg: Config{Providers: map[string]ProviderConfig{"s3": {
				Type:      TypeMinIO,
				ChunkSize: 1024,
				MinIO:     minio.Config{Endpoint: "localhost:9000", AccessKeyID: "a", SecretAccessKey: "b", Bucket: "c"},
			}}},
			wantErr: true,
		},
		{
			name: "minio",
			cfg: Config{Providers: map[string]ProviderConfig{"s3": {
				Type:  TypeMinIO,
				MinIO: minio.Config{Endpoint: "localhost:9000", AccessKeyID: "a", SecretAccessKey: "b", Bucket: "c"},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuild_HTTP(t *testing.T) {
	r, err := Build(context.Background(), &Config{
		Providers: map[string]ProviderConfig{
			"ton-b": {URL: "http://b.invalid"},
			"ton-a": {URL: "http://a.invalid"},
		},
	}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "ton-a", r.Preferred().ID())
	assert.Equal(t, []string{"ton-a", "ton-b"}, r.IDs())
}
