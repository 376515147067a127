package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aretw0/strata/pkg/domain"
)

// Reader is the read side of the storage manager.
type Reader interface {
	Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error)
}

// Reference addresses a value inside an item.
// Its text form is "<Cluster>/<path>[#<field>]", where field is a gjson path
// into the stored JSON document, e.g. "Outcome/Review/1/4#score".
type Reference struct {
	Cluster domain.ClusterType
	Path    string
	Field   string
}

// Parse reads the text form of a Reference.
func Parse(ref string) (Reference, error) {
	body, field, _ := strings.Cut(ref, "#")
	segments := domain.SplitPath(body)
	if len(segments) < 2 {
		return Reference{}, fmt.Errorf("%w: reference %q needs a cluster and a path", domain.ErrInvalidData, ref)
	}
	cluster, err := domain.ParseClusterType(segments[0])
	if err != nil {
		return Reference{}, fmt.Errorf("reference %q: %w", ref, err)
	}
	return Reference{
		Cluster: cluster,
		Path:    domain.JoinPath(segments[1:]...),
		Field:   field,
	}, nil
}

func (r Reference) String() string {
	s := domain.JoinPath(string(r.Cluster), r.Path)
	if r.Field != "" {
		s += "#" + r.Field
	}
	return s
}

// Resolve reads the referenced value.
// A ViewPoint reference is followed through the event it names to that
// event's outcome document before the field is applied.
func Resolve(ctx context.Context, r Reader, item domain.ItemID, ref Reference, tk domain.TransactionKey) (gjson.Result, error) {
	data, err := r.Get(ctx, item, ref.Cluster, ref.Path, tk)
	if err != nil {
		return gjson.Result{}, err
	}
	if ref.Cluster == domain.ClusterViewPoint {
		if data, err = follow(ctx, r, item, data, tk); err != nil {
			return gjson.Result{}, fmt.Errorf("viewpoint %s: %w", ref.Path, err)
		}
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%w: %s does not hold JSON", domain.ErrInvalidData, ref)
	}
	if ref.Field == "" {
		return gjson.ParseBytes(data), nil
	}
	res := gjson.GetBytes(data, ref.Field)
	if !res.Exists() {
		return gjson.Result{}, domain.NotFound("field", ref.String())
	}
	return res, nil
}

// ResolveString parses and resolves a reference in one step.
func ResolveString(ctx context.Context, r Reader, item domain.ItemID, ref string, tk domain.TransactionKey) (gjson.Result, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return gjson.Result{}, err
	}
	return Resolve(ctx, r, item, parsed, tk)
}

// follow maps a viewpoint value (an event id) to the outcome document of that event.
func follow(ctx context.Context, r Reader, item domain.ItemID, pointer []byte, tk domain.TransactionKey) ([]byte, error) {
	id, ok := domain.ParseSequenceID(strings.TrimSpace(string(pointer)))
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an event id", domain.ErrInvalidData, pointer)
	}
	ev, err := r.Get(ctx, item, domain.ClusterHistory, strconv.Itoa(id), tk)
	if err != nil {
		return nil, err
	}
	fields := gjson.GetManyBytes(ev, "schema_name", "schema_version")
	if fields[0].String() == "" {
		return nil, fmt.Errorf("%w: event %d carries no outcome", domain.ErrInvalidData, id)
	}
	path := domain.JoinPath(fields[0].String(), strconv.FormatInt(fields[1].Int(), 10), strconv.Itoa(id))
	return r.Get(ctx, item, domain.ClusterOutcome, path, tk)
}
