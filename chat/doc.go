// Package chat contains the platform adapters and the supervisor that owns them.
//
// Each adapter keeps one live connection to a chat source and publishes
// normalized messages to a Publisher (the broadcast hub):
//   - TwitchAdapter: validates the stored token, joins the account's own
//     channel over IRC and drops the bot's own messages.
//   - YouTubeAdapter: finds the active broadcast and polls its live chat,
//     honoring the server-suggested interval and backing off to a fixed delay
//     after a failed fetch.
//   - KickAdapter: subscribes to the chatroom topic on Kick's Pusher socket.
//
// Supervisor connects all adapters at startup and reconnects the
// credential-gated ones (Twitch, YouTube) on Refresh. Dispatcher routes
// moderation commands; only Twitch enforces them. HistoryRecorder persists
// published messages.
//
// Tokens come from a TokenProvider; a missing token leaves the platform
// disconnected without an error.
package chat
