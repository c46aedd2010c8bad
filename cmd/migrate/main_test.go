package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMigrator struct {
	current, latest int64
	calls           []string
	downTo          int64
	err             error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	f.current = f.latest
	return f.err
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	f.current--
	return f.err
}

func (f *fakeMigrator) DownTo(version int64) error {
	f.calls = append(f.calls, "down-to")
	f.downTo = version
	f.current = version
	return f.err
}

func (f *fakeMigrator) Status() error {
	f.calls = append(f.calls, "status")
	return f.err
}

func (f *fakeMigrator) GetCurrentVersion() (int64, error) { return f.current, nil }
func (f *fakeMigrator) GetLatestVersion() (int64, error)  { return f.latest, nil }

func (f *fakeMigrator) Reset() error {
	f.calls = append(f.calls, "reset")
	f.current = f.latest
	return f.err
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		calls   []string
		current int64
		wantErr bool
	}{
		{"up", []string{"up"}, []string{"up"}, 2, false},
		{"down", []string{"down"}, []string{"down"}, 0, false},
		{"down-to", []string{"down-to", "0"}, []string{"down-to"}, 0, false},
		{"status", []string{"status"}, []string{"status"}, 1, false},
		{"version", []string{"version"}, nil, 1, false},
		{"reset", []string{"reset"}, []string{"reset"}, 2, false},
		{"no command", nil, nil, 1, true},
		{"unknown command", []string{"redo"}, nil, 1, true},
		{"down-to without version", []string{"down-to"}, nil, 1, true},
		{"down-to bad version", []string{"down-to", "latest"}, nil, 1, true},
		{"down-to negative version", []string{"down-to", "-1"}, nil, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMigrator{current: 1, latest: 2}

			err := run(m, tt.args, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.calls, m.calls)
			assert.Equal(t, tt.current, m.current)
		})
	}
}

func TestRun_PropagatesMigratorError(t *testing.T) {
	boom := errors.New("connection refused")
	m := &fakeMigrator{latest: 2, err: boom}

	err := run(m, []string{"up"}, zap.NewNop())
	assert.ErrorIs(t, err, boom)
}

func TestRun_UnknownCommandWrapsUsage(t *testing.T) {
	err := run(&fakeMigrator{}, []string{"redo"}, zap.NewNop())
	assert.ErrorIs(t, err, errUsage)
}
