package batch

import "errors"

var (
	// ErrInvalidBatch はバッチの前提条件（実行関数、結果スロット、TaskUnit の並び）が満たされていないことを示します。
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrAlreadySettled は終端状態のスロットを再度更新しようとしたことを示します。
	ErrAlreadySettled = errors.New("task result already settled")

	// ErrEmptyPayload は実行関数がエラーも結果も返さなかったことを示します。
	ErrEmptyPayload = errors.New("executor returned no payload")

	// ErrInvalidLimit は並列数が 1 未満であることを示します。
	ErrInvalidLimit = errors.New("concurrency limit must be at least 1")
)
