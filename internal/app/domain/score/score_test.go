package score

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusAborted, true},
		{StatusPending, StatusPending, false},
		{StatusCompleted, StatusAborted, false},
		{StatusAborted, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.False(t, JobStatus("queued").Valid())
}

func TestResultLayout(t *testing.T) {
	res := Result{
		Owner:           Owner{1, 2, 3},
		EncryptedResult: Block{9, 9},
		Nonce:           NonceFromUint64(42),
		ProcessedAt:     time.Unix(1_700_000_000, 0).UTC(),
		Version:         ResultVersion,
	}
	raw, err := res.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, 89)
	assert.Equal(t, byte(1), raw[0])
	assert.Equal(t, byte(9), raw[32])
	assert.Equal(t, byte(42), raw[64])
	assert.Equal(t, ResultVersion, raw[88])

	var decoded Result
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, res, decoded)

	assert.Error(t, decoded.UnmarshalBinary(raw[:88]))
}

func TestResultLayoutNegativeTimestamp(t *testing.T) {
	res := Result{ProcessedAt: time.Unix(-5, 0).UTC()}
	raw, err := res.MarshalBinary()
	require.NoError(t, err)
	var decoded Result
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, int64(-5), decoded.ProcessedAt.Unix())
}

func TestNonceText(t *testing.T) {
	maxText := "340282366920938463463374607431768211455"
	n, err := ParseNonce(maxText)
	require.NoError(t, err)
	for _, b := range n {
		assert.Equal(t, byte(0xff), b)
	}
	assert.Equal(t, maxText, n.String())

	_, err = ParseNonce("340282366920938463463374607431768211456")
	assert.Error(t, err)
	_, err = ParseNonce("-1")
	assert.Error(t, err)

	one, err := ParseNonce("1")
	require.NoError(t, err)
	assert.Equal(t, NonceFromUint64(1), one)
}

func TestNonceJSONAcceptsNumberAndString(t *testing.T) {
	var body struct {
		A Nonce `json:"a"`
		B Nonce `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"258","b":258}`), &body))
	assert.Equal(t, body.A, body.B)
	assert.Equal(t, byte(2), body.A[0])
	assert.Equal(t, byte(1), body.A[1])

	out, err := json.Marshal(body.A)
	require.NoError(t, err)
	assert.Equal(t, `"258"`, string(out))
}

func TestOwnerHex(t *testing.T) {
	o, err := ParseOwner("0x" + Owner{0xab}.String())
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), o[0])

	_, err = ParseOwner("abcd")
	assert.Error(t, err)
	assert.True(t, Owner{}.IsZero())
}

func TestDigestBindsOffset(t *testing.T) {
	req := EncryptedRequest{Ciphertext: Block{1}, Count: 3, Owner: Owner{7}}
	assert.NotEqual(t, req.Digest(1), req.Digest(2))
	assert.Equal(t, req.Digest(1), req.Digest(1))
	assert.Len(t, req.Pack(1), 121)
}

func TestSentinelsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit offset 7: %w", ErrDuplicateOffset.WithDetails("offset", 7))
	assert.True(t, errors.Is(err, ErrDuplicateOffset))
	assert.True(t, errors.Is(ErrClusterUnavailable, ErrClusterNotSet))
	assert.False(t, errors.Is(err, ErrJobTerminal))
}
