package hue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, EffectGreenFlash, p.EffectFor(domain.ClassDonation))
	assert.Equal(t, EffectRainbowBlink, p.EffectFor(domain.ClassSprintDonation))
	assert.Equal(t, EffectNone, p.EffectFor(domain.EventClass(99)))
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    StaticPolicy
		wantErr string
	}{
		{
			name: "empty document keeps defaults",
			yaml: "",
			want: DefaultPolicy(),
		},
		{
			name: "overrides one class",
			yaml: "effects:\n  donation: short_green\n",
			want: StaticPolicy{
				domain.ClassDonation:       EffectShortGreen,
				domain.ClassSprintDonation: EffectRainbowBlink,
			},
		},
		{
			name: "overrides both classes",
			yaml: "effects:\n  donation: none\n  sprint_donation: red_flash\n",
			want: StaticPolicy{
				domain.ClassDonation:       EffectNone,
				domain.ClassSprintDonation: EffectRedFlash,
			},
		},
		{
			name:    "unknown class",
			yaml:    "effects:\n  refund: red_flash\n",
			wantErr: "unknown event class",
		},
		{
			name:    "unknown effect",
			yaml:    "effects:\n  donation: disco\n",
			wantErr: "unknown effect",
		},
		{
			name:    "malformed yaml",
			yaml:    "effects: [donation",
			wantErr: "parsing effect policy",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePolicy([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		p, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), p)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "effects.yaml")
		require.NoError(t, os.WriteFile(path, []byte("effects:\n  sprint: green_flash\n"), 0o600))

		p, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.Equal(t, EffectGreenFlash, p.EffectFor(domain.ClassSprintDonation))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
