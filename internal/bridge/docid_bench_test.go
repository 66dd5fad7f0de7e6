package bridge

import (
	"strings"
	"testing"
)

var samplePayloads = map[string][]byte{
	"small": []byte(`{"id":"42","type":"edit","title":"Go (programming language)"}`),
	"wikimedia": []byte(`{"$schema":"/mediawiki/recentchange/1.0.0","meta":{"uri":"https://en.wikipedia.org/wiki/Go","request_id":"b1e2","id":"9d1b6c3e-3c2f-4c56-9a53-1f7e5f0c6a11","dt":"2024-03-01T12:00:00Z","domain":"en.wikipedia.org","stream":"mediawiki.recentchange","topic":"eqiad.mediawiki.recentchange","partition":0,"offset":5118063131},"id":1721845101,"type":"edit","namespace":0,"title":"Go (programming language)","comment":"copyedit","timestamp":1709294400,"user":"Example","bot":false,"minor":true,"length":{"old":81234,"new":81240},"revision":{"old":1211100000,"new":1211100001},"server_url":"https://en.wikipedia.org","wiki":"enwiki"}`),
	"large": []byte(`{"id":"big","body":"` + strings.Repeat("lorem ipsum dolor sit amet ", 2000) + `"}`),
}

func BenchmarkHashID(b *testing.B) {
	for name, payload := range samplePayloads {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(payload)))
			for i := 0; i < b.N; i++ {
				_, _ = HashID(payload)
			}
		})
	}
}

func BenchmarkFieldID(b *testing.B) {
	derive := FieldID("meta.id")
	for name, payload := range samplePayloads {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(payload)))
			for i := 0; i < b.N; i++ {
				_, _ = derive(payload)
			}
		})
	}
}
