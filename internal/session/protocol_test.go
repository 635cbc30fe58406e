// ABOUTME: Tests for observation and step-result decoding and for reset option building.
// ABOUTME: Exercises the double JSON encoding the worker uses on the wire.

package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObservation(t *testing.T) {
	t.Run("double encoded", func(t *testing.T) {
		body := []byte(`"[[\"onChat\",{\"onChat\":\"hi\"}],[\"observe\",{\"status\":{\"food\":20}}]]"`)

		obs, err := DecodeObservation(body)
		require.NoError(t, err)
		require.Len(t, obs, 2)
		assert.Equal(t, EventChat, obs[0].Type)
		assert.Equal(t, EventObserve, obs[1].Type)
		assert.JSONEq(t, `{"status":{"food":20}}`, string(obs[1].Data))
	})

	t.Run("unwrapped body", func(t *testing.T) {
		obs, err := DecodeObservation([]byte(`[["observe",{}]]`))
		require.NoError(t, err)
		assert.Len(t, obs, 1)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := DecodeObservation([]byte("  "))
		assert.Error(t, err)
	})

	t.Run("malformed event", func(t *testing.T) {
		_, err := DecodeObservation([]byte(`[["observe"]]`))
		assert.Error(t, err)
	})
}

func TestEncodeObservationRoundTrip(t *testing.T) {
	in := Observation{
		{Type: EventError, Data: json.RawMessage(`{"onError":"no crafting table"}`)},
		{Type: EventObserve, Data: json.RawMessage(`{}`)},
	}
	body, err := EncodeObservation(in)
	require.NoError(t, err)
	assert.Equal(t, byte('"'), body[0], "worker replies are JSON strings")

	out, err := DecodeObservation(body)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count(EventError))
	last, ok := out.Last(EventObserve)
	require.True(t, ok)
	assert.JSONEq(t, `{}`, string(last))

	_, ok = out.Last(EventChat)
	assert.False(t, ok)
}

func TestDecodeStepResultEventListWithFiveEvents(t *testing.T) {
	body := []byte(`[["a",1],["b",2],["c",3],["d",4],["observe",{}]]`)

	res, err := DecodeStepResult(body)
	require.NoError(t, err)
	assert.Len(t, res.Observation, 5)
	assert.Zero(t, res.Reward)
}

func TestResetRequestBuild(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts := ResetRequest{}.build(25565, "bot", 3000)

		assert.Equal(t, ResetHard, opts.Reset)
		assert.Equal(t, DefaultWaitTicks, opts.WaitTicks)
		assert.Nil(t, opts.Position)

		data, err := json.Marshal(opts)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"port": 25565, "reset": "hard", "inventory": {}, "equipment": [],
			"spread": false, "waitTicks": 5, "position": null,
			"username": "bot", "server_port": 3000
		}`, string(data))
	})

	t.Run("copies caller collections", func(t *testing.T) {
		inv := map[string]int{"stone": 3}
		opts := ResetRequest{Inventory: inv, WaitTicks: 20}.build(1, "bot", 2)
		inv["stone"] = 99

		assert.Equal(t, 3, opts.Inventory["stone"])
		assert.Equal(t, 20, opts.WaitTicks)
	})

	t.Run("inventory needs hard mode", func(t *testing.T) {
		assert.NoError(t, ResetRequest{Inventory: map[string]int{"stone": 1}}.Validate())
		assert.ErrorIs(t, ResetRequest{Mode: ResetSoft, Inventory: map[string]int{"stone": 1}}.Validate(), ErrInvalidOptions)
		assert.NoError(t, ResetRequest{Mode: ResetSoft}.Validate())
	})
}
