package questionnaire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/qrform/internal/errors"
)

func TestParseAnswers_TypeDirected(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(internalMedicine))
	require.NoError(t, err)

	body := `{
	  "name": "Taro \"T\" Yamada",
	  "fever": "yes",
	  "temp": 38.5,
	  "symptoms": 5,
	  "areas": ["chest"],
	  "pain": {"x": 0.5, "y": 0.25},
	  "extra": "kept",
	  "skipped": null
	}`
	set, err := ParseAnswers(tmpl, []byte(body))
	require.NoError(t, err)

	require.Equal(t, Text(`Taro "T" Yamada`), set["name"])
	require.Equal(t, Text("38.5"), set["temp"])
	require.Equal(t, Bitmask(5), set["symptoms"])
	require.Equal(t, Choice{"chest"}, set["areas"])
	require.Equal(t, Point{X: 0.5, Y: 0.25}, set["pain"])
	require.Equal(t, Text("kept"), set["extra"])
	require.NotContains(t, set, "skipped")
}

func TestParseAnswers_MissingAxis(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(internalMedicine))
	require.NoError(t, err)

	set, err := ParseAnswers(tmpl, []byte(`{"pain": {"x": 0.5}}`))
	require.NoError(t, err)
	p := set["pain"].(Point)
	require.True(t, p.HasX())
	require.False(t, p.HasY())
}

func TestParseAnswers_Invalid(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(internalMedicine))
	require.NoError(t, err)

	tests := map[string]string{
		"not an object":      `[1,2]`,
		"text given number":  `{"name": 3}`,
		"bitflag negative":   `{"symptoms": -1}`,
		"array given string": `{"areas": "chest"}`,
		"point given string": `{"pain": "here"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAnswers(tmpl, []byte(body))
			require.Error(t, err)
			require.True(t, errors.Is(err, errors.ErrInvalidAnswers))
		})
	}
}

func TestAnswerSet_MarshalJSON(t *testing.T) {
	set := AnswerSet{
		"a": Text("x"),
		"b": Choice{"p", "q"},
		"c": Bitmask(6),
		"d": Point{X: 0.1, Y: 0.9},
	}
	out, err := json.Marshal(set)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"x","b":["p","q"],"c":6,"d":{"x":0.1,"y":0.9}}`, string(out))
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(Text("a"), Text("a")))
	require.False(t, Equal(Text("1"), Bitmask(1)))
	require.True(t, Equal(Choice{"a", "b"}, Choice{"a", "b"}))
	require.False(t, Equal(Choice{"a", "b"}, Choice{"b", "a"}))
	require.True(t, Equal(Point{X: 0.5, Y: 0.5}, Point{X: 0.5, Y: 0.5}))
	require.False(t, Equal(nil, Text("")))
}
