package haltalk

import (
	"github.com/drblury/haltalk/internal/hal"
	"github.com/drblury/haltalk/internal/hal/memstore"
	runtimepkg "github.com/drblury/haltalk/internal/runtime"
	configpkg "github.com/drblury/haltalk/internal/runtime/config"
	"github.com/drblury/haltalk/internal/runtime/engine"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	idspkg "github.com/drblury/haltalk/internal/runtime/ids"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	metadatapkg "github.com/drblury/haltalk/internal/runtime/metadata"
	"github.com/drblury/haltalk/internal/wire"
	"github.com/drblury/haltalk/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Announcer     = runtimepkg.Announcer
	LogAnnouncer  = runtimepkg.LogAnnouncer
	NATSAnnouncer = runtimepkg.NATSAnnouncer
	ServiceRecord = runtimepkg.ServiceRecord

	TopicStatus = engine.TopicStatus
	Channel     = engine.Channel

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError   = errspkg.ConfigValidationError
	UnprocessableFrameError = errspkg.UnprocessableFrameError

	// Data store
	Store     = hal.Store
	MemStore  = memstore.Store
	Fixture   = memstore.Fixture
	ValueType = hal.Type

	// Wire format
	Codec       = wire.Codec
	Envelope    = wire.Envelope
	MessageType = wire.MessageType
	Value       = wire.Value
	Pin         = wire.Pin
	Signal      = wire.Signal
	Param       = wire.Param
	Component   = wire.Component

	// Transports
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Topic naming
	StatusTopic       = runtimepkg.StatusTopic
	SubscriptionTopic = runtimepkg.SubscriptionTopic
	ReplyTopic        = runtimepkg.ReplyTopic
	ControlFrame      = runtimepkg.ControlFrame

	// Data store
	NewMemStore     = memstore.New
	LoadFixture     = memstore.LoadFixture
	LoadFixtureFile = memstore.LoadFixtureFile

	// Wire format
	NewEnvelope = wire.New
	CodecFor    = wire.CodecFor
	JoinFrames  = wire.JoinFrames
	SplitFrames = wire.SplitFrames

	// Modular transport registry.
	// Import individual transports via: _ "github.com/drblury/haltalk/transport/kafka"
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	ErrServiceRequired = errspkg.ErrServiceRequired
	ErrStoreRequired   = errspkg.ErrStoreRequired
	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrLoggerRequired  = errspkg.ErrLoggerRequired
	ErrOriginRequired  = errspkg.ErrOriginRequired
	ErrLoopStopped     = errspkg.ErrLoopStopped
	ErrMalformedFrame  = wire.ErrMalformedFrame
	IsUnprocessable    = errspkg.IsUnprocessable

	NewDefaultLogger     = loggingpkg.NewDefaultLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyOrigin        = metadatapkg.KeyOrigin
	MetadataKeyMessageType   = metadatapkg.KeyMessageType
	MetadataKeySerial        = metadatapkg.KeySerial
	MetadataKeyTopic         = metadatapkg.KeyTopic
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyContentType   = metadatapkg.KeyContentType
	MetadataKeyProcessUUID   = metadatapkg.KeyProcessUUID
)

// Status channels.
const (
	ChannelGroup     = engine.ChannelGroup
	ChannelComponent = engine.ChannelComponent
)

// Codec names accepted by Config.WireFormat.
const (
	CodecJSON     = wire.CodecJSON
	CodecProtobuf = wire.CodecProtobuf
)

// Value types.
const (
	TypeBit   = hal.TypeBit
	TypeFloat = hal.TypeFloat
	TypeS32   = hal.TypeS32
	TypeU32   = hal.TypeU32
	TypeS64   = hal.TypeS64
	TypeU64   = hal.TypeU64
)

// Request and reply message types used by command clients.
const (
	MTPing               = wire.MTPing
	MTPingAcknowledge    = wire.MTPingAcknowledge
	MTRcompBind          = wire.MTRcompBind
	MTRcompBindConfirm   = wire.MTRcompBindConfirm
	MTRcompBindReject    = wire.MTRcompBindReject
	MTHalrcompSet        = wire.MTHalrcompSet
	MTHalrcmdSet         = wire.MTHalrcmdSet
	MTHalrcmdSetReject   = wire.MTHalrcmdSetReject
	MTHalrcmdGet         = wire.MTHalrcmdGet
	MTHalrcmdAck         = wire.MTHalrcmdAck
	MTHalrcmdDescribe    = wire.MTHalrcmdDescribe
	MTHalrcmdDescription = wire.MTHalrcmdDescription
	MTHalrcmdError       = wire.MTHalrcmdError
)
