package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/cmd/server/container"
	"github.com/dipeo/dipeo/cmd/server/routes"
	"github.com/dipeo/dipeo/common/bootstrap"
	"github.com/dipeo/dipeo/common/config"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/diagram/format"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/handle"
	"github.com/dipeo/dipeo/common/logger"
	"github.com/dipeo/dipeo/common/sdk"
)

func newTestServer(t *testing.T) (*httptest.Server, *sdk.Client) {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Service: config.Service{Name: "test", Port: 0},
		State:   config.State{Backend: "memory", BaseDir: t.TempDir(), MaxLive: 16},
		Events:  config.Events{QueueSize: 64, ReplayWindow: 64},
	}
	components, err := bootstrap.Setup(ctx, "test",
		bootstrap.WithConfig(cfg),
		bootstrap.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { components.Shutdown(ctx) })

	c, err := container.New(components)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	e := echo.New()
	e.HideBanner = true
	routes.RegisterExecutionRoutes(e, c)
	routes.RegisterDiagramRoutes(e, c)
	routes.RegisterSubscriptionRoutes(e, c)
	routes.RegisterMetricsRoutes(e, c)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return srv, sdk.NewClient(sdk.ClientOpts{BaseURL: srv.URL})
}

func linearDiagramSource(t *testing.T) string {
	t.Helper()
	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "start1", Type: diagram.NodeTypeStart},
			{ID: "code1", Type: diagram.NodeTypeCodeJob, Data: map[string]interface{}{
				"code": `{"x": 1}`,
			}},
			{ID: "end1", Type: diagram.NodeTypeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: handle.Create("start1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("code1", handle.LabelDefault, handle.DirectionInput)},
			{ID: "a2", Source: handle.Create("code1", handle.LabelDefault, handle.DirectionOutput),
				Target: handle.Create("end1", handle.LabelDefault, handle.DirectionInput)},
		},
	}
	content, err := format.Native{}.SerializeFromDomain(d)
	require.NoError(t, err)
	return string(content)
}

func TestUploadExecuteAndWatch(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	uploaded, err := client.UploadDiagram(ctx, &sdk.UploadDiagramRequest{
		ID:      "linear",
		Content: linearDiagramSource(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "linear", uploaded.DiagramID)
	assert.Equal(t, "native", uploaded.Format)
	assert.Equal(t, 3, uploaded.Nodes)

	execID, err := client.Execute(ctx, &sdk.ExecuteRequest{DiagramID: "linear"})
	require.NoError(t, err)
	require.NotEmpty(t, execID)

	watchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var types []string
	require.NoError(t, client.Watch(watchCtx, execID, 0, func(frame sdk.EventFrame) error {
		types = append(types, frame.EventType)
		return nil
	}))
	assert.Equal(t, "EXECUTION_STARTED", types[0])
	assert.Equal(t, "EXECUTION_COMPLETED", types[len(types)-1])
	assert.Contains(t, types, "NODE_COMPLETED")

	st, err := client.GetExecution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, st.Status)

	out := st.Outputs["end1"]
	require.NotNil(t, out)
	value, err := out.Value()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, value)
}

func TestExecuteInlineDiagram(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	execID, err := client.Execute(ctx, &sdk.ExecuteRequest{
		Diagram: linearDiagramSource(t),
		Format:  "native",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := client.GetExecution(ctx, execID)
		return err == nil && st.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	st, err := client.GetExecution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, st.Status)
}

func TestExecuteRejectsAmbiguousRequest(t *testing.T) {
	_, client := newTestServer(t)

	_, err := client.Execute(context.Background(), &sdk.ExecuteRequest{
		DiagramID: "linear",
		Diagram:   "{}",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request")
}

func TestControlUnknownExecution(t *testing.T) {
	_, client := newTestServer(t)

	err := client.Control(context.Background(), "exec-missing", sdk.ActionResume, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
}

func TestListExecutionsAfterRun(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	execID, err := client.Execute(ctx, &sdk.ExecuteRequest{Diagram: linearDiagramSource(t)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := client.GetExecution(ctx, execID)
		return err == nil && st.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	list, err := client.ListExecutions(ctx, string(execution.StatusCompleted), 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, execID, list[0].ID)
}

func TestDiagramLifecycle(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.UploadDiagram(ctx, &sdk.UploadDiagramRequest{ID: "d1", Content: linearDiagramSource(t)})
	require.NoError(t, err)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/diagrams/d1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	delReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/diagrams/d1", nil)
	require.NoError(t, err)
	delResp, err := srv.Client().Do(delReq)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, 204, delResp.StatusCode)

	missing, err := srv.Client().Get(srv.URL + "/api/v1/diagrams/d1")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, 404, missing.StatusCode)
}

func TestMetricsSummary(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	execID, err := client.Execute(ctx, &sdk.ExecuteRequest{Diagram: linearDiagramSource(t)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := client.GetExecution(ctx, execID)
		return err == nil && st.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
