// Package notifier presents reminder notifications.
//
// Service implements reminder.NotificationPresenter. Presented notifications
// go through a bounded queue to a worker pool that delivers them to every
// registered Sink (log, Telegram) with a token-bucket rate limit, retry with
// jittered exponential backoff and a dedup window. A small in-memory history
// of deliveries is kept for the CLI and logs.
package notifier
