package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rahul/sceneforge/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paragraphs(n int) string {
	var parts []string
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("Paragraph %d %s", i, strings.Repeat("word ", 30)))
	}
	return strings.Join(parts, "\n\n")
}

func TestIngest_ChunksEmbedsAndStores(t *testing.T) {
	idx, err := vectorstore.New(3)
	require.NoError(t, err)
	emb := &fixedEmbedder{}
	ing := NewIngester(idx, emb, 50)

	ids, err := ing.Ingest(context.Background(), Source{Text: paragraphs(4), FilePath: "docs/gears.md", EntityID: "gear-1"})
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	assert.Equal(t, "docs/gears.md#0", ids[0])
	assert.Equal(t, 1, emb.calls, "chunks are embedded in one batch")
	assert.Equal(t, len(ids), idx.Count())

	doc, ok := idx.Get(ids[len(ids)-1])
	require.True(t, ok)
	assert.Equal(t, vectorstore.SourceDocumentation, doc.Metadata.Source)
	assert.Equal(t, "gear-1", doc.Metadata.EntityID)
	require.NotNil(t, doc.Metadata.ChunkIndex)
	assert.Equal(t, len(ids)-1, *doc.Metadata.ChunkIndex)
}

func TestIngest_ReplacesPreviousChunksOfPath(t *testing.T) {
	idx, err := vectorstore.New(3)
	require.NoError(t, err)
	ing := NewIngester(idx, &fixedEmbedder{}, 50)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, Source{Text: paragraphs(6), FilePath: "notes.md"})
	require.NoError(t, err)
	second, err := ing.Ingest(ctx, Source{Text: "short now", FilePath: "notes.md"})
	require.NoError(t, err)

	require.Greater(t, len(first), len(second))
	assert.ElementsMatch(t, second, idx.IDs(vectorstore.Filter{FilePath: "notes.md"}))
	doc, ok := idx.Get("notes.md#0")
	require.True(t, ok)
	assert.Equal(t, "short now", doc.Content)
}

func TestIngest_Errors(t *testing.T) {
	idx, err := vectorstore.New(3)
	require.NoError(t, err)

	_, err = NewIngester(idx, &fixedEmbedder{}, 0).Ingest(context.Background(), Source{Text: "  \n\n "})
	assert.ErrorIs(t, err, ErrNothingToIngest)

	boom := errors.New("quota exceeded")
	_, err = NewIngester(idx, &fixedEmbedder{err: boom}, 0).Ingest(context.Background(), Source{Text: "text"})
	assert.ErrorIs(t, err, boom)

	wrong := &fixedEmbedder{docs: [][]float32{{1, 0}}}
	_, err = NewIngester(idx, wrong, 0).Ingest(context.Background(), Source{Text: "text"})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.Zero(t, idx.Count())
}

const articleHTML = `<!DOCTYPE html>
<html><head><title>Spur Gear Basics</title></head>
<body>
<nav>menu</nav>
<article>
<h1>Spur Gear Basics</h1>
<p>A spur gear has straight teeth parallel to the axis of rotation. The pressure angle is usually twenty degrees.</p>
<p>Module is the ratio of the pitch diameter to the number of teeth. Gears that mesh must share the same module.</p>
<p>Face width is typically eight to twelve times the module for general purpose gearing.</p>
<script>alert("x")</script>
</article>
</body></html>`

func TestFetcherAndIngestURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewFetcher()
	page, err := f.Fetch(context.Background(), srv.URL+"/gears")
	require.NoError(t, err)
	assert.Contains(t, page.Text, "pressure angle")
	assert.NotContains(t, page.Text, "<script>")

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "file:///etc/hosts")
	assert.Error(t, err)

	idx, err := vectorstore.New(3)
	require.NoError(t, err)
	ing := NewIngester(idx, &fixedEmbedder{}, 0)
	_, ids, err := ing.IngestURL(context.Background(), f, srv.URL+"/gears")
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	doc, ok := idx.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, vectorstore.SourceWeb, doc.Metadata.Source)
	assert.Equal(t, srv.URL+"/gears", doc.Metadata.FilePath)
}
