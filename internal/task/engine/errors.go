package engine

import "errors"

var ErrOverlapSkip = errors.New("task skipped due to overlap policy")
