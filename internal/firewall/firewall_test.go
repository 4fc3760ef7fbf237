package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

const baseConfigXML = `<?xml version="1.0"?>
<opnsense>
  <version>24.7</version>
  <gateways>
    <gateway_item>
      <interface>wan</interface>
      <gateway>192.168.1.1</gateway>
      <name>WAN_GW</name>
      <descr>Interface WAN Gateway</descr>
    </gateway_item>
    <gateway_item>
      <interface>lan</interface>
      <gateway>10.0.0.253</gateway>
      <name>LAN_GW</name>
      <descr>Interface LAN Gateway</descr>
    </gateway_item>
  </gateways>
  <nat>
    <outbound>
      <mode>hybrid</mode>
      <rule>
        <source><network>172.16.0.0/12</network></source>
        <destination><any>1</any></destination>
        <descr>admin rule</descr>
        <interface>wan</interface>
      </rule>
      <rule>
        <source><network>10.99.0.0/16</network></source>
        <destination><any>1</any></destination>
        <descr>Outbound NAT rule for subnet 10.99.0.0/16</descr>
        <interface>wan</interface>
      </rule>
    </outbound>
  </nat>
</opnsense>
`

func parseDoc(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

var creator = Creator{Username: "root@10.0.0.1", Description: "linuxmuster import-subnets"}

func TestSetManagedGateway(t *testing.T) {
	doc := parseDoc(t, baseConfigXML)

	assert.True(t, SetManagedGateway(doc, config.FWGATEWAYDESCR, config.FWGATEWAYNAME, "10.0.0.254"))
	assert.Equal(t, []string{"10.0.0.254"}, ManagedGateways(doc, config.FWGATEWAYDESCR))
	assert.Len(t, doc.FindElements("/opnsense/gateways/gateway_item"), 2, "wan gateway kept")

	assert.False(t, SetManagedGateway(doc, config.FWGATEWAYDESCR, config.FWGATEWAYNAME, "10.0.0.254"))

	// 第二个托管条目使集合再次不合规
	dup := doc.FindElement("/opnsense/gateways").CreateElement("gateway_item")
	dup.CreateElement("descr").SetText(config.FWGATEWAYDESCR)
	assert.True(t, SetManagedGateway(doc, config.FWGATEWAYDESCR, config.FWGATEWAYNAME, "10.0.0.254"))
	assert.Len(t, ManagedGateways(doc, config.FWGATEWAYDESCR), 1)
}

func TestSetManagedGatewayCreatesSection(t *testing.T) {
	doc := parseDoc(t, "<opnsense/>")
	assert.True(t, SetManagedGateway(doc, config.FWGATEWAYDESCR, config.FWGATEWAYNAME, "10.0.0.254"))
	item := doc.FindElement("/opnsense/gateways/gateway_item")
	require.NotNil(t, item)
	assert.Equal(t, "lan", text(item, "interface"))
	assert.Equal(t, config.FWGATEWAYNAME, text(item, "name"))
}

func TestSetManagedNAT(t *testing.T) {
	doc := parseDoc(t, baseConfigXML)
	now := time.Unix(1700000000, 0)

	assert.True(t, SetManagedNAT(doc, config.FWNATDESCR, []string{"10.16.0.0/16"}, creator, now))
	assert.Equal(t, []string{"10.16.0.0/16"}, ManagedNATSources(doc, config.FWNATDESCR))

	rules := doc.FindElements("/opnsense/nat/outbound/rule")
	require.Len(t, rules, 2)
	assert.Equal(t, "admin rule", text(rules[0], "descr"))
	assert.Equal(t, "Outbound NAT rule for subnet 10.16.0.0/16", text(rules[1], "descr"))
	assert.Equal(t, "wan", text(rules[1], "interface"))
	assert.Equal(t, "root@10.0.0.1", text(rules[1].SelectElement("created"), "username"))
	assert.Equal(t, "1700000000.0000", text(rules[1].SelectElement("created"), "time"))

	assert.False(t, SetManagedNAT(doc, config.FWNATDESCR, []string{"10.16.0.0/16"}, creator, now.Add(time.Hour)))
	assert.Equal(t, "1700000000.0000", text(doc.FindElements("/opnsense/nat/outbound/rule")[1].SelectElement("created"), "time"))

	assert.True(t, SetManagedNAT(doc, config.FWNATDESCR, nil, creator, now))
	assert.Empty(t, ManagedNATSources(doc, config.FWNATDESCR))
	assert.Len(t, doc.FindElements("/opnsense/nat/outbound/rule"), 1)
}

// fakeAPI 内存中的 OPNsense 路由和 proxysso 接口
type fakeAPI struct {
	mu       sync.Mutex
	routes   []Route
	nextID   int
	requests []string
	keytab   bool
}

func (f *fakeAPI) record(c *gin.Context) {
	f.requests = append(f.requests, c.Request.Method+" "+strings.TrimPrefix(c.Request.URL.Path, "/api"))
}

func (f *fakeAPI) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		if strings.HasPrefix(r, "POST") {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeAPI) add(network string, gateway string) string {
	f.nextID++
	uuid := fmt.Sprintf("uuid-%d", f.nextID)
	f.routes = append(f.routes, Route{UUID: uuid, Network: network, Gateway: gateway, Disabled: "0"})
	return uuid
}

func (f *fakeAPI) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", gin.BasicAuth(gin.Accounts{"key": "secret"}))

	api.GET("/routes/routes/searchroute", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(c)
		rows := make([]gin.H, 0, len(f.routes))
		for _, rt := range f.routes {
			gw := rt.Gateway
			if gw == config.FWGATEWAYNAME {
				gw += " - 10.0.0.254"
			}
			rows = append(rows, gin.H{"uuid": rt.UUID, "network": rt.Network, "gateway": gw, "descr": rt.Descr, "disabled": rt.Disabled})
		}
		c.JSON(http.StatusOK, gin.H{"rows": rows, "rowCount": len(rows), "total": len(rows), "current": 1})
	})
	api.POST("/routes/routes/addroute", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(c)
		var body struct {
			Route Route `json:"route"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Route.Network == "" {
			c.JSON(http.StatusOK, gin.H{"result": "failed"})
			return
		}
		uuid := f.add(body.Route.Network, body.Route.Gateway)
		f.routes[len(f.routes)-1].Descr = body.Route.Descr
		c.JSON(http.StatusOK, gin.H{"result": "saved", "uuid": uuid})
	})
	api.POST("/routes/routes/delroute/:uuid", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(c)
		for i, rt := range f.routes {
			if rt.UUID == c.Param("uuid") {
				f.routes = append(f.routes[:i], f.routes[i+1:]...)
				c.JSON(http.StatusOK, gin.H{"result": "deleted"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"result": "not found"})
	})
	api.POST("/routes/routes/reconfigure", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.record(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.GET("/proxysso/service/showkeytab", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.keytab {
			c.JSON(http.StatusOK, gin.H{"response": "no keytab"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": "HTTP/firewall.linuxmuster.lan@LINUXMUSTER.LAN"})
	})
	api.POST("/proxysso/service/createkeytab", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]string
		_ = c.ShouldBindJSON(&body)
		if body["admin_login"] == "" || body["admin_password"] == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "missing credentials"})
			return
		}
		f.keytab = true
		c.JSON(http.StatusOK, gin.H{"response": "keytab created"})
	})
	api.GET("/proxysso/service/deletekeytab", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.keytab = false
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func startAPI(t *testing.T, f *fakeAPI) *APIClient {
	t.Helper()
	srv := httptest.NewTLSServer(f.router())
	t.Cleanup(srv.Close)
	return NewAPIClient(srv.URL+"/api", "key", "secret", 5*time.Second)
}

func TestRouteGatewayName(t *testing.T) {
	assert.Equal(t, "LAN_GW", Route{Gateway: "LAN_GW - 10.0.0.254"}.GatewayName())
	assert.Equal(t, "LAN_GW", Route{Gateway: "LAN_GW"}.GatewayName())
	assert.Equal(t, "", Route{}.GatewayName())
}

func TestReconcileRoutes(t *testing.T) {
	f := &fakeAPI{}
	f.add("192.168.5.0/24", "WAN_GW")             // admin route, untouched
	f.add("10.20.0.0/16", config.FWGATEWAYNAME)   // no longer in inventory
	f.add("10.16.0.0/16", "WAN_GW")               // wanted network, wrong gateway
	f.add("10.17.0.0/16", config.FWGATEWAYNAME)   // compliant
	f.add("10.17.0.0/16", config.FWGATEWAYNAME)   // duplicate
	api := startAPI(t, f)
	ctx := context.Background()
	want := []string{"10.16.0.0/16", "10.17.0.0/16"}

	diff, err := ReconcileRoutes(ctx, api, want, config.FWGATEWAYNAME, config.FWROUTEDESCR, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, RouteDiff{Deleted: 3, Added: 1}, diff)

	routes, err := api.SearchRoutes(ctx)
	require.NoError(t, err)
	got := map[string]string{}
	for _, r := range routes {
		got[r.Network] = r.GatewayName()
	}
	assert.Equal(t, map[string]string{
		"192.168.5.0/24": "WAN_GW",
		"10.16.0.0/16":   config.FWGATEWAYNAME,
		"10.17.0.0/16":   config.FWGATEWAYNAME,
	}, got)
	assert.Equal(t, 1, countPrefix(f.mutations(), "POST /routes/routes/reconfigure"))

	before := len(f.mutations())
	diff, err = ReconcileRoutes(ctx, api, want, config.FWGATEWAYNAME, config.FWROUTEDESCR, logger.Discard())
	require.NoError(t, err)
	assert.False(t, diff.Changed())
	assert.Len(t, f.mutations(), before, "second run is read-only")
}

func countPrefix(list []string, prefix string) int {
	n := 0
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func TestAPIClientErrors(t *testing.T) {
	f := &fakeAPI{}
	api := startAPI(t, f)
	api.Secret = "wrong"

	_, err := api.SearchRoutes(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	api.Secret = "secret"
	err = api.DelRoute(context.Background(), "nope")
	assert.Error(t, err)
}

func TestKeytab(t *testing.T) {
	f := &fakeAPI{}
	api := startAPI(t, f)
	ctx := context.Background()

	out, err := api.ShowKeytab(ctx)
	require.NoError(t, err)
	assert.Equal(t, "no keytab", out)

	_, err = api.CreateKeytab(ctx, "", "")
	assert.Error(t, err)

	out, err = api.CreateKeytab(ctx, "global-admin", "Muster!")
	require.NoError(t, err)
	assert.Equal(t, "keytab created", out)

	out, err = api.ShowKeytab(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, "HTTP/firewall")

	out, err = api.DeleteKeytab(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestReadAPIKeys(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "firewall.api.ini")
	require.NoError(t, os.WriteFile(good, []byte("[api]\nkey = abc\nsecret = def\n"), 0o600))
	key, secret, err := ReadAPIKeys(good)
	require.NoError(t, err)
	assert.Equal(t, "abc", key)
	assert.Equal(t, "def", secret)

	bad := filepath.Join(dir, "bad.ini")
	require.NoError(t, os.WriteFile(bad, []byte("[api]\nkey = abc\n"), 0o600))
	_, _, err = ReadAPIKeys(bad)
	assert.Error(t, err)

	_, _, err = ReadAPIKeys(filepath.Join(dir, "missing.ini"))
	assert.Error(t, err)
}

func TestMajorVersion(t *testing.T) {
	v, err := MajorVersion("24.7.3_2\n")
	require.NoError(t, err)
	assert.Equal(t, 24, v)

	v, err = MajorVersion("OPNsense 23.1")
	require.NoError(t, err)
	assert.Equal(t, 23, v)

	_, err = MajorVersion("")
	assert.Error(t, err)
	_, err = MajorVersion("unknown")
	assert.Error(t, err)
}

// appliance 通过 fakeTransport 访问的内存防火墙
type appliance struct {
	mu        sync.Mutex
	files     map[string][]byte
	version   string
	failDials int
	dials     int
	uploads   int
	runs      []string
}

type fakeTransport struct{ a *appliance }

func (a *appliance) dial(context.Context) (Transport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dials++
	if a.failDials > 0 {
		a.failDials--
		return nil, errors.New("connection refused")
	}
	return &fakeTransport{a: a}, nil
}

func (t *fakeTransport) Run(_ context.Context, cmd string) (string, error) {
	t.a.mu.Lock()
	defer t.a.mu.Unlock()
	t.a.runs = append(t.a.runs, cmd)
	if cmd == "opnsense-version -v" {
		return t.a.version + "\n", nil
	}
	return "", nil
}

func (t *fakeTransport) Download(_ context.Context, remote string, local string) error {
	t.a.mu.Lock()
	defer t.a.mu.Unlock()
	data, ok := t.a.files[remote]
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(local, data, 0o600)
}

func (t *fakeTransport) Upload(_ context.Context, local string, remote string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	t.a.mu.Lock()
	defer t.a.mu.Unlock()
	t.a.files[remote] = data
	t.a.uploads++
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func testSubnets(t *testing.T) (inventory.Subnet, []inventory.Subnet) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subnets.csv")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.0/16;10.0.0.254;;;;\n10.16.0.0/16;10.16.0.1;;;;\n"), 0o644))
	subnets, err := inventory.ReadSubnets(path, logger.Discard())
	require.NoError(t, err)
	server, ok := inventory.ServerSubnet(subnets, "10.0.0.1")
	require.True(t, ok)
	return server, subnets
}

func newTestReconciler(t *testing.T, a *appliance, api RouteAPI) *Reconciler {
	t.Helper()
	cfg := config.Default().Firewall
	cfg.ReadyInterval = 10 * time.Millisecond
	cfg.ReadyTimeout = time.Second
	tick := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Reconciler{
		Dial:       a.dial,
		API:        api,
		Cfg:        cfg,
		LocalPath:  filepath.Join(t.TempDir(), "opnsense.xml"),
		RemotePath: config.FWCONFREMOTE,
		Creator:    creator,
		Log:        logger.Discard(),
		Now: func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		},
	}
}

func TestReconcilerRunIsIdempotent(t *testing.T) {
	a := &appliance{files: map[string][]byte{config.FWCONFREMOTE: []byte(baseConfigXML)}, version: "24.7.3_2", failDials: 2}
	f := &fakeAPI{}
	api := startAPI(t, f)
	r := newTestReconciler(t, a, api)
	server, subnets := testSubnets(t)
	ctx := context.Background()

	res, err := r.Run(ctx, Input{ServerSubnet: server, Subnets: subnets})
	require.NoError(t, err)
	assert.True(t, res.XMLChanged)
	assert.Equal(t, RouteDiff{Added: 1}, res.Routes)
	assert.FileExists(t, res.Backup)
	assert.Equal(t, 3, a.dials, "reachability retried until the firewall answers")
	assert.Equal(t, 1, a.uploads)
	assert.Contains(t, a.runs, "/usr/local/etc/rc.reload_all")

	doc := parseDoc(t, string(a.files[config.FWCONFREMOTE]))
	assert.Equal(t, []string{"10.0.0.254"}, ManagedGateways(doc, config.FWGATEWAYDESCR))
	assert.Equal(t, []string{"10.16.0.0/16"}, ManagedNATSources(doc, config.FWNATDESCR))
	routes, err := api.SearchRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.16.0.0/16", routes[0].Network)
	assert.Equal(t, "Route for subnet 10.16.0.0/16", routes[0].Descr)

	uploaded := append([]byte(nil), a.files[config.FWCONFREMOTE]...)
	f.mu.Lock()
	f.requests = nil
	f.mu.Unlock()

	res, err = r.Run(ctx, Input{ServerSubnet: server, Subnets: subnets})
	require.NoError(t, err)
	assert.False(t, res.XMLChanged)
	assert.False(t, res.Routes.Changed())
	assert.Equal(t, 1, a.uploads, "nothing uploaded on the second run")
	assert.Equal(t, uploaded, a.files[config.FWCONFREMOTE])
	assert.Equal(t, []string{"GET /routes/routes/searchroute"}, f.requests)
}

func TestReconcilerSkipFW(t *testing.T) {
	a := &appliance{files: map[string][]byte{}}
	r := newTestReconciler(t, a, nil)
	server, subnets := testSubnets(t)

	res, err := r.Run(context.Background(), Input{SkipFW: true, ServerSubnet: server, Subnets: subnets})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, a.dials)
}

func TestReconcilerVersionMismatch(t *testing.T) {
	a := &appliance{files: map[string][]byte{config.FWCONFREMOTE: []byte(baseConfigXML)}, version: "23.7.12"}
	r := newTestReconciler(t, a, nil)
	server, subnets := testSubnets(t)

	_, err := r.Run(context.Background(), Input{ServerSubnet: server, Subnets: subnets})
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.NoFileExists(t, r.LocalPath)
}

func TestReconcilerNotReady(t *testing.T) {
	a := &appliance{failDials: 1000}
	r := newTestReconciler(t, a, nil)
	r.Cfg.ReadyTimeout = 50 * time.Millisecond
	server, subnets := testSubnets(t)

	_, err := r.Run(context.Background(), Input{ServerSubnet: server, Subnets: subnets})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Greater(t, a.dials, 1)
}

func TestManagedCIDRs(t *testing.T) {
	server, subnets := testSubnets(t)
	assert.Equal(t, []string{"10.16.0.0/16"}, ManagedCIDRs(server, subnets))
}
