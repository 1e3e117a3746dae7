package grpccas

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/storage"
)

// ErrRejected is returned for a document the service's Validate refused.
var ErrRejected = errors.New("grpccas: document rejected")

// ServerOptions configure a Server. The zero value serves any bytes.
type ServerOptions struct {
	// Validate vets every document before it is stored, e.g.
	// home.DocumentValidator.
	Validate func([]byte) error
	Logger   *zerolog.Logger
}

// Server serves a storage.CAS over the Documents service. Documents are
// checked against their CID on the way in and out.
type Server struct {
	UnimplementedDocumentsServer

	cas      storage.CAS
	validate func([]byte) error
	log      zerolog.Logger
}

func NewServer(cas storage.CAS, opts ServerOptions) *Server {
	return &Server{
		cas:      cas,
		validate: opts.Validate,
		log:      logging.OrComponent(opts.Logger, "grpccas"),
	}
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	doc := in.GetValue()
	want, err := storage.CIDFor(doc)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	log := s.log.With().Str("cid", want.String()).Logger()
	if s.validate != nil {
		if err := s.validate(doc); err != nil {
			log.Debug().Err(err).Msg("document rejected")
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	id, err := s.cas.Put(doc)
	if err == nil && !id.Equals(want) {
		err = storage.ErrCIDMismatch
	}
	if err != nil {
		log.Warn().Err(err).Msg("put failed")
		return nil, toStatus(err)
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	id, err := storage.ParseCID(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	doc, err := s.cas.Get(id)
	if err == nil {
		err = verify(id.String(), doc)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(doc), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	id, err := storage.ParseCID(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(s.cas.Has(id)), nil
}

// verify reports ErrCIDMismatch unless doc hashes to ref.
func verify(ref string, doc []byte) error {
	got, err := storage.CIDFor(doc)
	if err != nil {
		return err
	}
	if got.String() != ref {
		return storage.ErrCIDMismatch
	}
	return nil
}

// sentinels travel as status codes in both directions.
var sentinels = map[codes.Code]error{
	codes.NotFound:           storage.ErrNotFound,
	codes.InvalidArgument:    storage.ErrInvalidCID,
	codes.DataLoss:           storage.ErrCIDMismatch,
	codes.AlreadyExists:      storage.ErrImmutable,
	codes.FailedPrecondition: ErrRejected,
}

func toStatus(err error) error {
	for code, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return status.Error(code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus restores the sentinel behind a status code. A rejection keeps
// the server's reason.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	sentinel, ok := sentinels[st.Code()]
	if !ok {
		return err
	}
	if sentinel == ErrRejected {
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	}
	return sentinel
}
