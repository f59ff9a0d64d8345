package poll

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hitoshi/feedpoller/internal/entry"
)

// BackoffPolicy はサイクル結果から次のサイクルまでの待ち時間を決める。
// 連続失敗回数nのときの待ち時間はBase * Growth^nで、Maxで頭打ちになる。
type BackoffPolicy struct {
	Base          time.Duration
	Growth        float64
	Max           time.Duration
	FailThreshold int
}

// Decision はサイクル1回分の結果に対する次の状態。
type Decision struct {
	Stop       bool          // これ以上サイクルを登録しない
	MarkFailed bool          // フィードを失敗状態にする
	FailCount  int           // 次のサイクルに引き継ぐ連続失敗回数
	Delay      time.Duration // 次のサイクルまでの待ち時間（処理時間を差し引く前）
}

// Delay は連続失敗回数failCountに対する待ち時間を返す。
func (p BackoffPolicy) Delay(failCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Growth
	b.RandomizationFactor = 0
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.MaxElapsedTime = 0 // 打ち切らない
	b.Reset()

	// n+1回目のNextBackOffがBase * Growth^nになる
	delay := b.NextBackOff()
	for i := 0; i < failCount; i++ {
		delay = b.NextBackOff()
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// Decide は現在の連続失敗回数とサイクル結果から次の状態を決める。
// 入力だけで決まる純粋関数で、サイクル間で共有する状態を持たない。
func (p BackoffPolicy) Decide(failCount int, kind entry.OutcomeKind) Decision {
	switch kind {
	case entry.Updated, entry.Unchanged:
		return Decision{FailCount: 0, Delay: p.Base}
	case entry.Gone:
		return Decision{Stop: true}
	default:
		next := failCount + 1
		if next >= p.FailThreshold {
			return Decision{Stop: true, MarkFailed: true, FailCount: next}
		}
		return Decision{FailCount: next, Delay: p.Delay(next)}
	}
}
