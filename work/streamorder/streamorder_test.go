package streamorder

import (
	"math/rand"
	"testing"

	"aonline-proxy/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name     string
		explicit types.Language
		title    string
		expected types.Language
	}{
		{name: "explicit wins", explicit: types.LangSubbed, title: "Castellano", expected: types.LangSubbed},
		{name: "explicit lowercase", explicit: "lat", title: "", expected: types.LangLatino},
		{name: "castellano keyword", explicit: types.LangUnknown, title: "Opción 1 Castellano", expected: types.LangCastilian},
		{name: "español keyword", title: "Audio Español", expected: types.LangCastilian},
		{name: "latino keyword", title: "Latino (mp4upload)", expected: types.LangLatino},
		{name: "vose keyword", title: "VOSE hd", expected: types.LangSubbed},
		{name: "substring is not a keyword", title: "Subaru broadcast", expected: types.LangUnknown},
		{name: "nothing", title: "Opción 1", expected: types.LangUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectLanguage(tt.explicit, tt.title))
		})
	}
}

func TestDedupFirstWins(t *testing.T) {
	streams := []types.ResolvedStream{
		{Title: "first", URL: "https://streamtape.com/get_video?id=abcdefgh12&expires=1&token=a"},
		{Title: "second", URL: "https://streamtape.com/get_video?id=abcdefgh12&expires=2&token=b"},
		{Title: "third", URL: "https://cdn.example/v.mp4"},
	}
	out := Dedup(streams)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Title)
	assert.Equal(t, "third", out[1].Title)
}

func sampleStreams() []types.ResolvedStream {
	return []types.ResolvedStream{
		{Title: "External link: Open", URL: "https://a.example/x.mp4", Language: types.LangCastilian},
		{Title: "STREAMTAPE • CAST", URL: "https://streamtape.com/get_video?id=abcdefgh12&expires=1&token=t", Server: "STREAMTAPE", Language: types.LangCastilian},
		{Title: "MP4UPLOAD • CAST", URL: "https://www.mp4upload.com/d/abc/v.mp4", Server: "MP4UPLOAD", Language: types.LangCastilian},
		{Title: "Opción 2 (filemoon)", URL: "https://cdn.example/b.m3u8", Language: types.LangCastilian},
		{Title: "Opción 1 (filemoon)", URL: "https://cdn.example/a.m3u8", Language: types.LangCastilian},
		{Title: "Sub option", URL: "https://cdn.example/sub.mp4", Language: types.LangSubbed},
		{Title: "Latino option", URL: "https://cdn.example/lat.mp4", Language: types.LangLatino},
		{Title: "Mystery", URL: "https://cdn.example/unk.mp4", Language: types.LangUnknown},
	}
}

func TestSortOrder(t *testing.T) {
	streams := sampleStreams()
	Sort(streams, []string{"streamtape", "mp4upload"})

	var titles []string
	for _, s := range streams {
		titles = append(titles, s.Title)
	}
	assert.Equal(t, []string{
		"STREAMTAPE • CAST",
		"MP4UPLOAD • CAST",
		"Opción 1 (filemoon)",
		"Opción 2 (filemoon)",
		"External link: Open",
		"Latino option",
		"Sub option",
		"Mystery",
	}, titles)
}

func TestArrangeStableAcrossShuffles(t *testing.T) {
	preferred := []string{"streamtape"}
	input := append(sampleStreams(),
		// duplicate of the streamtape entry with a refreshed token
		types.ResolvedStream{Title: "STREAMTAPE • CAST", URL: "https://streamtape.com/get_video?id=abcdefgh12&expires=9&token=z", Server: "STREAMTAPE"},
	)
	expected := Arrange(input, preferred)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]types.ResolvedStream(nil), input...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, expected, Arrange(shuffled, preferred))
	}

	assert.Len(t, expected, len(input)-1)
}

func TestArrangeLabelsFromTitle(t *testing.T) {
	out := Arrange([]types.ResolvedStream{
		{Title: "Opción 1 Latino", URL: "https://cdn.example/1.mp4"},
		{Title: "Opción 2 Castellano", URL: "https://cdn.example/2.mp4"},
	}, nil)
	require.Len(t, out, 2)
	assert.Equal(t, types.LangCastilian, out[0].Language)
	assert.Equal(t, types.LangLatino, out[1].Language)
}
