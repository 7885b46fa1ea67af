// Package log provides structured protocol event logging for the joiner.
//
// Events are captured at three layers: the channel layer (secured or
// unsecured datagrams), the message layer (decoded requests and
// responses), and the session layer (join state transitions).
// Applications receive events through the Logger interface and decide
// where they go: discard them (NoopLogger), bridge them to log/slog
// (SlogAdapter), or persist them as a CBOR stream (FileLogger) for
// later analysis.
//
// Events use CBOR integer keys for compact storage.
package log
