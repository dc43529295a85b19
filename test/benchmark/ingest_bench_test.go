package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/security"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/tokens"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Retrieval pipelines pull documents from local folders and hosted
        workspaces, fingerprint them to skip unchanged content, and hand them to a
        managed search backend. Questions are answered from the indexed corpus and
        confident answers are cached so repeated questions return immediately.`,
	"long": strings.Repeat(`Every document is screened before upload. Environment files,
        private keys and anything under a secrets directory never leave the machine.
        Content that survives the screen is hashed, and identical content is uploaded
        only once no matter how many filenames point at it. `, 40),
}

func BenchmarkFingerprint(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = security.Fingerprint(text)
			}
		})
	}
}

func BenchmarkIsIndexable(b *testing.B) {
	paths := make([]string, 0, 64)
	for i := range 16 {
		paths = append(paths,
			fmt.Sprintf("docs/guide-%d.md", i),
			fmt.Sprintf("config/%d/.env.production", i),
			fmt.Sprintf("keys/deploy-%d.pem", i),
			fmt.Sprintf("src/pkg%d/secrets/token.txt", i),
		)
	}
	text := sampleTexts["medium"]
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			_ = security.IsIndexable(p, text)
		}
	}
}

func BenchmarkTokenEstimate(b *testing.B) {
	counters := map[string]tokens.Counter{
		"heuristic": tokens.Heuristic{},
		"default":   tokens.NewCounter(),
	}
	for cname, c := range counters {
		for tname, text := range sampleTexts {
			b.Run(cname+"/"+tname, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(text)))
				for i := 0; i < b.N; i++ {
					_ = c.Count(text)
				}
			})
		}
	}
}
