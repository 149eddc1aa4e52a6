package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_DecodeWireFormat(t *testing.T) {
	var s Settings
	require.NoError(t, json.Unmarshal([]byte(`{
		"inactivity_threshold": 15,
		"do_not_disturb": true,
		"do_not_disturb_start_time": "22:00",
		"do_not_disturb_end_time": "07:00",
		"timezone": "America/Montevideo"
	}`), &s))

	require.NoError(t, s.Validate())
	assert.Equal(t, 15*time.Minute, s.InactivityThreshold())
	require.NotNil(t, s.DoNotDisturbStart)
	assert.Equal(t, "22:00", *s.DoNotDisturbStart)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"minimal", Settings{InactivityThresholdMin: 1}, false},
		{"zero threshold", Settings{}, true},
		{"dnd without times", Settings{InactivityThresholdMin: 5, DoNotDisturb: true}, true},
		{"dnd disabled ignores missing times", Settings{InactivityThresholdMin: 5, DoNotDisturbStart: ptr("22:00")}, false},
		{"bad clock", Settings{InactivityThresholdMin: 5, DoNotDisturb: true, DoNotDisturbStart: ptr("25:00"), DoNotDisturbEnd: ptr("07:00")}, true},
		{"bad timezone", Settings{InactivityThresholdMin: 5, Timezone: "Mars/Olympus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
