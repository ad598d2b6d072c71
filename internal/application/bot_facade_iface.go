package application

import (
	"shopee-video-bot/internal/infra/worker"
)

// ---- small interfaces to decouple the facade from concrete infra types ----

// LinkChecker tells the facade whether a message carries a supported link.
// adapter.MediaDownloader satisfies it.
type LinkChecker interface {
	IsSupportedLink(link string) bool
}

// JobSubmitter runs downloads off the update loop. *worker.Pool satisfies it.
type JobSubmitter interface {
	Submit(task worker.Task) error
}
