// Package model はドメインモデルを定義する。
package model

// NoneRead は購読のカーソル初期値。フィードの最初のエントリより前を指す。
const NoneRead int64 = 0

// Entry はエントリストアに保存されたフィードの1記事を表す。
// 保存後は不変で、IDは挿入順に単調増加する。
type Entry struct {
	ID        int64
	FeedID    int64
	Published int64  // エポック秒（フィード提供値）
	Content   string // シリアライズ済みの記事ペイロード。コアは中身を解釈しない
}

// NewEntry はフェッチャーが正規化した未保存のエントリを表す。
type NewEntry struct {
	Published int64
	Content   string
}
