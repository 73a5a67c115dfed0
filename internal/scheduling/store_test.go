package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	a := Appointment{
		ID:       uuid.New(),
		Date:     time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		StartMin: 600,
	}

	cur, err := DecodeCursor(EncodeCursor(a))
	require.NoError(t, err)
	assert.True(t, cur.Date.Equal(a.Date))
	assert.Equal(t, a.StartMin, cur.StartMin)
	assert.Equal(t, a.ID, cur.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	var verr *ValidationError

	_, err := DecodeCursor("not base64!!")
	assert.ErrorAs(t, err, &verr)

	_, err = DecodeCursor("bm90LWEtY3Vyc29y") // "not-a-cursor"
	assert.ErrorAs(t, err, &verr)
}
