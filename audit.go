package rentAuth

import (
	"io"

	internalaudit "github.com/MrEthical07/rentAuth/internal/audit"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant outcome. EventType is one of the
// AuditEvent* constants.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

// AuditMessageWriter is satisfied by *kafka.Writer.
type AuditMessageWriter = internalaudit.MessageWriter

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	ZapAuditSink   = internalaudit.ZapSink
	KafkaAuditSink = internalaudit.KafkaSink
)

const (
	AuditEventRegisterSuccess       = "register_success"
	AuditEventRegisterDuplicate     = "register_duplicate"
	AuditEventLoginSuccess          = "login_success"
	AuditEventLoginFailure          = "login_failure"
	AuditEventLoginLocked           = "login_locked"
	AuditEventRefreshSuccess        = "refresh_success"
	AuditEventRefreshInvalid        = "refresh_invalid"
	AuditEventRefreshReuseDetected  = "refresh_reuse_detected"
	AuditEventLogoutSession         = "logout_session"
	AuditEventLogoutAll             = "logout_all"
	AuditEventPasswordChangeSuccess = "password_change_success"
	AuditEventPasswordChangeFailure = "password_change_failure"
	AuditEventPasswordReset         = "password_reset"
	AuditEventSessionsRevoked       = "sessions_revoked"
	AuditEventHashUpgraded          = "password_hash_upgraded"
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapAuditSink logs events at info level, failures at warn.
func NewZapAuditSink(log *zap.Logger) *ZapAuditSink {
	return internalaudit.NewZapSink(log)
}

// NewKafkaAuditSink publishes JSON events keyed by subject id. Build w with
// NewKafkaAuditWriter or pass any *kafka.Writer.
func NewKafkaAuditSink(w AuditMessageWriter, log *zap.Logger) *KafkaAuditSink {
	return internalaudit.NewKafkaSink(w, log)
}

// NewKafkaAuditWriter returns a hash-balanced writer for topic.
func NewKafkaAuditWriter(brokers []string, topic string) *kafka.Writer {
	return internalaudit.NewKafkaWriter(brokers, topic)
}
