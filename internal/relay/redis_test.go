package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := encode("node-a", []byte(`{"type":"message"}`), []int64{1, 2})
	require.NoError(t, err)

	env, err := decode(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "node-a", env.Node)
	assert.Equal(t, []int64{1, 2}, env.Recipients)
	assert.JSONEq(t, `{"type":"message"}`, string(env.Data))
}

func TestEncode_RejectsNonJSON(t *testing.T) {
	_, err := encode("node-a", []byte("not json"), []int64{1})
	require.Error(t, err)
}

func TestDecode_Incomplete(t *testing.T) {
	_, err := decode(`{"recipients":[1]}`)
	require.Error(t, err)

	_, err = decode(`{`)
	require.Error(t, err)
}

func TestHandle_SkipsOwnNode(t *testing.T) {
	r := &RedisRelay{node: "self", log: zap.NewNop()}

	var got [][]int64
	deliver := func(_ []byte, recipients []int64) int {
		got = append(got, recipients)
		return len(recipients)
	}

	own, err := encode("self", []byte(`{}`), []int64{1})
	require.NoError(t, err)
	r.handle(string(own), deliver)
	assert.Empty(t, got)

	other, err := encode("other", []byte(`{}`), []int64{2, 3})
	require.NoError(t, err)
	r.handle(string(other), deliver)
	assert.Equal(t, [][]int64{{2, 3}}, got)

	r.handle("garbage", deliver)
	assert.Len(t, got, 1)
}
