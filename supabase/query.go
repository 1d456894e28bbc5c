package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// QueryBuilder builds and executes PostgREST queries.
type QueryBuilder struct {
	client      *Client
	table       string
	method      string
	columns     string
	filters     []string
	orders      []string
	limitVal    *int
	body        []byte
	bodyErr     error
	single      bool
	accessToken string
}

// Select specifies columns to select, including PostgREST embedded
// resources, e.g. "*,order_items(*,food_item:food_items(*))".
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.method = http.MethodGet
	q.columns = columns
	return q
}

// Insert inserts one record or a slice of records.
func (q *QueryBuilder) Insert(data any) *QueryBuilder {
	q.method = http.MethodPost
	q.body, q.bodyErr = json.Marshal(data)
	return q
}

// Update updates the records matched by the filters.
func (q *QueryBuilder) Update(data any) *QueryBuilder {
	q.method = http.MethodPatch
	q.body, q.bodyErr = json.Marshal(data)
	return q
}

// Delete deletes the records matched by the filters.
func (q *QueryBuilder) Delete() *QueryBuilder {
	q.method = http.MethodDelete
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=eq.%v", column, value))
	return q
}

// Neq adds a not-equal filter.
func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=neq.%v", column, value))
	return q
}

// Gt adds a greater-than filter.
func (q *QueryBuilder) Gt(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=gt.%v", column, value))
	return q
}

// Gte adds a greater-than-or-equal filter.
func (q *QueryBuilder) Gte(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=gte.%v", column, value))
	return q
}

// Lt adds a less-than filter.
func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=lt.%v", column, value))
	return q
}

// Lte adds a less-than-or-equal filter.
func (q *QueryBuilder) Lte(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=lte.%v", column, value))
	return q
}

// In adds an IN filter.
func (q *QueryBuilder) In(column string, values []any) *QueryBuilder {
	strValues := make([]string, len(values))
	for i, v := range values {
		strValues[i] = fmt.Sprintf("%v", v)
	}
	q.filters = append(q.filters, fmt.Sprintf("%s=in.(%s)", column, strings.Join(strValues, ",")))
	return q
}

// Is adds an IS filter (for null, true, false).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=is.%v", column, value))
	return q
}

// Order adds an order clause. Direction defaults to ascending.
func (q *QueryBuilder) Order(column string, opts ...OrderDirection) *QueryBuilder {
	dir := OrderAsc
	if len(opts) > 0 {
		dir = opts[0]
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit sets the maximum number of rows.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limitVal = &n
	return q
}

// Single expects exactly one row and returns it as an object.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// WithToken sets the user access token so RLS applies to the request.
func (q *QueryBuilder) WithToken(token string) *QueryBuilder {
	q.accessToken = token
	return q
}

// Execute runs the query and returns the raw response body.
func (q *QueryBuilder) Execute(ctx context.Context) ([]byte, error) {
	if q.bodyErr != nil {
		return nil, fmt.Errorf("marshal body: %w", q.bodyErr)
	}
	method := q.method
	if method == "" {
		method = http.MethodGet
	}

	var reqBody *bytes.Reader
	if q.body != nil {
		reqBody = bytes.NewReader(q.body)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.buildURL(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req, q.accessToken)
	if q.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	resp, err := q.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ExecuteInto runs the query and unmarshals the result into dest.
func (q *QueryBuilder) ExecuteInto(ctx context.Context, dest any) error {
	data, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// buildURL builds the PostgREST request URL.
func (q *QueryBuilder) buildURL() string {
	reqURL := q.client.baseURL + "/rest/v1/" + url.PathEscape(q.table)

	params := url.Values{}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	for _, f := range q.filters {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) == 2 {
			params.Add(parts[0], parts[1])
		}
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limitVal != nil {
		params.Set("limit", fmt.Sprintf("%d", *q.limitVal))
	}

	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}
