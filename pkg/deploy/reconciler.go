package deploy

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/archive"
	"github.com/stewardhq/steward/pkg/awsapi"
	"github.com/stewardhq/steward/pkg/events"
)

// DefaultAlias is the alias event rules target when none is configured.
// Binding rules to an alias instead of a pinned version is what lets a
// later deploy move traffic without rewriting any rule.
const DefaultAlias = "current"

// CodeUploader stages a sealed bundle in object storage and returns its
// location. When no uploader is configured the bundle travels inline.
type CodeUploader interface {
	Upload(ctx context.Context, arch *archive.Archive, name string) (bucket, key string, err error)
}

// Recorder receives reconciliation outcomes for metrics. A nil recorder
// disables recording.
type Recorder interface {
	ReconcileCompleted(policy, status string, elapsed time.Duration)
	MutationApplied(kind string)
}

// ReconcileOptions tune a single reconciliation pass.
type ReconcileOptions struct {
	// Alias is the published alias name. Empty means DefaultAlias.
	Alias string

	// Uploader stages the bundle in object storage when set.
	Uploader CodeUploader
}

func (o ReconcileOptions) alias() string {
	if o.Alias == "" {
		return DefaultAlias
	}
	return o.Alias
}

// FunctionRecord is the observed state of a policy function after a
// reconciliation pass.
type FunctionRecord struct {
	// FunctionName is the derived function name.
	FunctionName string `json:"function_name"`

	// FunctionArn identifies the function resource.
	FunctionArn string `json:"function_arn"`

	// AliasArn identifies the published alias event rules target.
	AliasArn string `json:"alias_arn"`

	// CodeSha256 is the bundle checksum the function now carries.
	CodeSha256 string `json:"code_sha256"`

	// Version is the published function version behind the alias.
	Version string `json:"version"`

	// Created reports whether the pass created the function.
	Created bool `json:"created"`

	// CodeChanged reports whether the pass shipped new code.
	CodeChanged bool `json:"code_changed"`

	// ConfigChanged reports whether the pass rewrote configuration.
	ConfigChanged bool `json:"config_changed"`

	// RulesChanged reports whether any event binding was mutated.
	RulesChanged bool `json:"rules_changed"`
}

// Changed reports whether the pass issued any remote mutation.
func (r FunctionRecord) Changed() bool {
	return r.Created || r.CodeChanged || r.ConfigChanged || r.RulesChanged
}

// Reconciler converges policy functions, their aliases, and their event
// bindings to the state a spec declares.
type Reconciler struct {
	lambda   awsapi.LambdaAPI
	bindings *events.Reconciler
	logger   zerolog.Logger
	recorder Recorder
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecorder installs a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// NewReconciler creates a function reconciler on top of the Lambda
// control plane and an event binding reconciler.
func NewReconciler(client awsapi.LambdaAPI, bindings *events.Reconciler, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		lambda:   client,
		bindings: bindings,
		logger:   logger.With().Str("component", "deploy").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile converges one policy function to its spec: bundle build,
// function create-or-update, alias publish, event bindings, in that
// order. The order matters: rules must never point at a function that
// does not yet exist.
func (r *Reconciler) Reconcile(ctx context.Context, spec FunctionSpec, opts ReconcileOptions) (FunctionRecord, error) {
	start := time.Now()
	rec, err := r.reconcile(ctx, spec, opts)
	if r.recorder != nil {
		status := "succeeded"
		if err != nil {
			status = "failed"
		} else if !rec.Changed() {
			status = "unchanged"
		}
		r.recorder.ReconcileCompleted(spec.Name(), status, time.Since(start))
	}
	return rec, err
}

func (r *Reconciler) reconcile(ctx context.Context, spec FunctionSpec, opts ReconcileOptions) (FunctionRecord, error) {
	name := spec.Name()
	logger := r.logger.With().Str("function", name).Logger()
	rec := FunctionRecord{FunctionName: name}

	arch, err := spec.Archive(logger)
	if err != nil {
		return rec, err
	}
	defer func() { _ = arch.Dispose() }()

	checksum, err := arch.Checksum()
	if err != nil {
		return rec, classify(name, "bundle checksum", err)
	}
	rec.CodeSha256 = checksum

	existing, err := r.getFunction(ctx, name)
	if err != nil {
		return rec, err
	}

	var version string
	if existing == nil {
		out, err := r.createFunction(ctx, spec, arch, opts)
		if err != nil {
			return rec, err
		}
		rec.Created = true
		rec.FunctionArn = aws.ToString(out.FunctionArn)
		version = aws.ToString(out.Version)
		logger.Info().Str("version", version).Msg("Created policy function")
	} else {
		rec.FunctionArn = aws.ToString(existing.FunctionArn)
		version = aws.ToString(existing.Version)

		if aws.ToString(existing.CodeSha256) != checksum {
			out, err := r.updateCode(ctx, spec, arch, opts)
			if err != nil {
				return rec, err
			}
			rec.CodeChanged = true
			version = aws.ToString(out.Version)
			logger.Info().
				Str("version", version).
				Str("checksum", checksum).
				Msg("Updated policy function code")
		}

		if configDelta(existing, spec) {
			if _, err := r.updateConfiguration(ctx, spec); err != nil {
				return rec, err
			}
			rec.ConfigChanged = true
			logger.Info().Msg("Updated policy function configuration")
		}

		if !rec.CodeChanged && !rec.ConfigChanged {
			logger.Debug().Msg("Policy function already converged")
		}
	}

	moveTraffic := rec.Created || rec.CodeChanged
	aliasArn, aliasChanged, err := r.publishAlias(ctx, name, opts.alias(), version, moveTraffic)
	if err != nil {
		return rec, err
	}
	rec.AliasArn = aliasArn
	rec.Version = version

	for _, d := range spec.Events() {
		changed, err := r.bindings.Bind(ctx, d, aliasArn, name)
		if err != nil {
			return rec, classify(name, "bind events", err)
		}
		if changed {
			rec.RulesChanged = true
			r.record("rule")
		}
	}

	if aliasChanged {
		r.record("alias")
	}
	return rec, nil
}

// getFunction fetches remote function state, mapping absence to nil.
func (r *Reconciler) getFunction(ctx context.Context, name string) (*lambdatypes.FunctionConfiguration, error) {
	out, err := r.lambda.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: aws.String(name),
	})
	if err != nil {
		if awsapi.IsNotFound(err) {
			return nil, nil
		}
		return nil, classify(name, "get function", err)
	}
	return out.Configuration, nil
}

// functionCode stages the bundle for the create or update call, either
// inline or through the configured uploader.
func (r *Reconciler) functionCode(ctx context.Context, name string, arch *archive.Archive, opts ReconcileOptions) (*lambdatypes.FunctionCode, error) {
	if opts.Uploader != nil {
		bucket, key, err := opts.Uploader.Upload(ctx, arch, name)
		if err != nil {
			return nil, classify(name, "upload bundle", err)
		}
		return &lambdatypes.FunctionCode{
			S3Bucket: aws.String(bucket),
			S3Key:    aws.String(key),
		}, nil
	}
	data, err := arch.Bytes()
	if err != nil {
		return nil, classify(name, "read bundle", err)
	}
	return &lambdatypes.FunctionCode{ZipFile: data}, nil
}

func (r *Reconciler) createFunction(ctx context.Context, spec FunctionSpec, arch *archive.Archive, opts ReconcileOptions) (*lambda.CreateFunctionOutput, error) {
	name := spec.Name()
	code, err := r.functionCode(ctx, name, arch, opts)
	if err != nil {
		return nil, err
	}

	out, err := r.lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(name),
		Runtime:      lambdatypes.Runtime(spec.Runtime()),
		Handler:      aws.String(spec.Handler()),
		Role:         aws.String(spec.Role()),
		Description:  aws.String(spec.Description()),
		MemorySize:   aws.Int32(spec.MemorySize()),
		Timeout:      aws.Int32(spec.Timeout()),
		Code:         code,
		Publish:      true,
	})
	if err != nil {
		return nil, classify(name, "create function", err)
	}
	r.record("create")
	return out, nil
}

func (r *Reconciler) updateCode(ctx context.Context, spec FunctionSpec, arch *archive.Archive, opts ReconcileOptions) (*lambda.UpdateFunctionCodeOutput, error) {
	name := spec.Name()
	code, err := r.functionCode(ctx, name, arch, opts)
	if err != nil {
		return nil, err
	}

	in := &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(name),
		ZipFile:      code.ZipFile,
		S3Bucket:     code.S3Bucket,
		S3Key:        code.S3Key,
		Publish:      true,
	}
	out, err := r.lambda.UpdateFunctionCode(ctx, in)
	if err != nil {
		return nil, classify(name, "update function code", err)
	}
	r.record("code")
	return out, nil
}

func (r *Reconciler) updateConfiguration(ctx context.Context, spec FunctionSpec) (*lambda.UpdateFunctionConfigurationOutput, error) {
	name := spec.Name()
	out, err := r.lambda.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(name),
		Runtime:      lambdatypes.Runtime(spec.Runtime()),
		Handler:      aws.String(spec.Handler()),
		Role:         aws.String(spec.Role()),
		Description:  aws.String(spec.Description()),
		MemorySize:   aws.Int32(spec.MemorySize()),
		Timeout:      aws.Int32(spec.Timeout()),
	})
	if err != nil {
		return nil, classify(name, "update function configuration", err)
	}
	r.record("config")
	return out, nil
}

// configDelta reports whether remote configuration diverges from the spec
// on any field the reconciler owns. The comparison is one-directional:
// remote-only fields the spec says nothing about never count as drift.
func configDelta(existing *lambdatypes.FunctionConfiguration, spec FunctionSpec) bool {
	if aws.ToString(existing.FunctionName) != spec.Name() {
		return true
	}
	if aws.ToInt32(existing.MemorySize) != spec.MemorySize() {
		return true
	}
	if aws.ToString(existing.Role) != spec.Role() {
		return true
	}
	if aws.ToString(existing.Description) != spec.Description() {
		return true
	}
	if string(existing.Runtime) != spec.Runtime() {
		return true
	}
	if aws.ToString(existing.Handler) != spec.Handler() {
		return true
	}
	if aws.ToInt32(existing.Timeout) != spec.Timeout() {
		return true
	}
	return false
}

// publishAlias converges the alias to the given version. When moveTraffic
// is false and the alias already exists it is left untouched, so a
// no-change pass never republishes.
func (r *Reconciler) publishAlias(ctx context.Context, name, aliasName, version string, moveTraffic bool) (string, bool, error) {
	existing, err := r.lambda.GetAlias(ctx, &lambda.GetAliasInput{
		FunctionName: aws.String(name),
		Name:         aws.String(aliasName),
	})
	if err != nil && !awsapi.IsNotFound(err) {
		return "", false, classify(name, "get alias", err)
	}

	if err != nil { // not found
		out, err := r.lambda.CreateAlias(ctx, &lambda.CreateAliasInput{
			FunctionName:    aws.String(name),
			Name:            aws.String(aliasName),
			FunctionVersion: aws.String(version),
		})
		if err != nil {
			return "", false, classify(name, "create alias", err)
		}
		r.logger.Debug().
			Str("function", name).
			Str("alias", aliasName).
			Str("version", version).
			Msg("Created alias")
		return aws.ToString(out.AliasArn), true, nil
	}

	if !moveTraffic || aws.ToString(existing.FunctionVersion) == version {
		return aws.ToString(existing.AliasArn), false, nil
	}

	out, err := r.lambda.UpdateAlias(ctx, &lambda.UpdateAliasInput{
		FunctionName:    aws.String(name),
		Name:            aws.String(aliasName),
		FunctionVersion: aws.String(version),
	})
	if err != nil {
		return "", false, classify(name, "update alias", err)
	}
	r.logger.Debug().
		Str("function", name).
		Str("alias", aliasName).
		Str("version", version).
		Msg("Moved alias")
	return aws.ToString(out.AliasArn), true, nil
}

// Remove tears down a policy function: event bindings first, then the
// function itself, so an event can never fire into a deleted target.
// Absence at any step is tolerated.
func (r *Reconciler) Remove(ctx context.Context, spec FunctionSpec) error {
	name := spec.Name()
	if err := r.bindings.Unbind(ctx, name); err != nil {
		return classify(name, "unbind events", err)
	}

	_, err := r.lambda.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
		FunctionName: aws.String(name),
	})
	if err != nil && !awsapi.IsNotFound(err) {
		return classify(name, "delete function", err)
	}
	if err == nil {
		r.logger.Info().Str("function", name).Msg("Deleted policy function")
		r.record("delete")
	}
	return nil
}

// Pause disables the event bindings for a policy function without
// touching the function itself.
func (r *Reconciler) Pause(ctx context.Context, spec FunctionSpec) error {
	return classify(spec.Name(), "pause events", r.bindings.Pause(ctx, spec.Name()))
}

// Resume re-enables the event bindings for a policy function.
func (r *Reconciler) Resume(ctx context.Context, spec FunctionSpec) error {
	return classify(spec.Name(), "resume events", r.bindings.Resume(ctx, spec.Name()))
}

// List returns the managed functions, identified by the name prefix.
func (r *Reconciler) List(ctx context.Context, prefix string) ([]lambdatypes.FunctionConfiguration, error) {
	if prefix == "" {
		prefix = FunctionPrefix
	}

	var out []lambdatypes.FunctionConfiguration
	var marker *string
	for {
		page, err := r.lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, classify("", "list functions", err)
		}
		for _, fn := range page.Functions {
			if strings.HasPrefix(aws.ToString(fn.FunctionName), prefix) {
				out = append(out, fn)
			}
		}
		if page.NextMarker == nil {
			break
		}
		marker = page.NextMarker
	}
	return out, nil
}

func (r *Reconciler) record(kind string) {
	if r.recorder != nil {
		r.recorder.MutationApplied(kind)
	}
}
