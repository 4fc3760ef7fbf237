package dns

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/pkg/command"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

// zone 模拟 samba DNS 存储：fake 执行器上的 samba-tool 调用修改它，解析器读取它
type zone struct {
	mu    sync.Mutex
	a     map[string][]string
	ptr   map[string][]string
	zones map[string]bool
}

func newZone() *zone {
	return &zone{a: map[string][]string{}, ptr: map[string][]string{}, zones: map[string]bool{}}
}

func (z *zone) LookupA(_ context.Context, fqdn string) ([]string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return append([]string(nil), z.a[fqdn]...), nil
}

func (z *zone) LookupPTR(_ context.Context, ip string) ([]string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return append([]string(nil), z.ptr[ip]...), nil
}

func remove(list []string, v string) []string {
	var out []string
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// wire 将 fake 执行器连接到 zone，域名为 "linuxmuster.lan"
func (z *zone) wire(f *command.Fake) {
	f.OnFunc("samba-tool dns", func(c command.Call) command.Response {
		z.mu.Lock()
		defer z.mu.Unlock()
		verb, args := c.Args[1], c.Args[3:]
		switch verb {
		case "add", "delete":
			zoneName, name, typ, data := args[0], args[1], args[2], args[3]
			if typ == "A" {
				fqdn := name + "." + zoneName
				if verb == "add" {
					z.a[fqdn] = append(z.a[fqdn], data)
				} else {
					z.a[fqdn] = remove(z.a[fqdn], data)
				}
				return command.Response{}
			}
			o := strings.Split(zoneName, ".")
			ip := o[2] + "." + o[1] + "." + o[0] + "." + name
			if verb == "add" {
				z.ptr[ip] = append(z.ptr[ip], data)
			} else {
				z.ptr[ip] = remove(z.ptr[ip], data)
			}
		case "zoneinfo":
			if !z.zones[args[0]] {
				return command.Response{Output: "WERR_DNS_ERROR_ZONE_DOES_NOT_EXIST", ExitCode: 255}
			}
		case "zonecreate":
			z.zones[args[0]] = true
		}
		return command.Response{}
	})
	f.On("ldbsearch", command.Response{Output: "# record 1\ndn: CN=LAPTOP01\nsophomorixComputerIP: DHCP\n"})
}

func newTestUpdater(z *zone, f *command.Fake) *Updater {
	return &Updater{
		Runner: f, Resolver: z,
		SambaTool: "samba-tool", LdbSearch: "ldbsearch", SamLdb: "/var/lib/samba/private/sam.ldb",
		Server: "localhost", AdminUser: "dns-admin", Password: "s3cret",
		Domain: "linuxmuster.lan", Log: logger.Discard(),
	}
}

func TestAddDeleteRoundTrip(t *testing.T) {
	z, f := newZone(), command.NewFake()
	z.wire(f)
	u := newTestUpdater(z, f)
	ctx := context.Background()

	require.NoError(t, u.Update(ctx, Request{Cmd: CmdAdd, IP: "10.0.0.123", Hostname: "laptop01"}))
	ips, _ := z.LookupA(ctx, "laptop01.linuxmuster.lan")
	assert.Equal(t, []string{"10.0.0.123"}, ips)
	names, _ := z.LookupPTR(ctx, "10.0.0.123")
	assert.Equal(t, []string{"laptop01.linuxmuster.lan"}, names)
	assert.True(t, z.zones["0.0.10.in-addr.arpa"])

	for _, c := range f.Calls {
		if c.Name == "samba-tool" {
			assert.Equal(t, []string{"PASSWD=s3cret"}, c.Env)
			assert.NotContains(t, c.String(), "s3cret")
		}
	}

	require.NoError(t, u.Update(ctx, Request{Cmd: CmdDelete, IP: "10.0.0.123", Hostname: "laptop01"}))
	ips, _ = z.LookupA(ctx, "laptop01.linuxmuster.lan")
	assert.Empty(t, ips)
	names, _ = z.LookupPTR(ctx, "10.0.0.123")
	assert.Empty(t, names)
}

func TestAddIsIdempotent(t *testing.T) {
	z, f := newZone(), command.NewFake()
	z.wire(f)
	u := newTestUpdater(z, f)
	ctx := context.Background()
	req := Request{Cmd: CmdAdd, IP: "10.0.0.123", Hostname: "Laptop01"}

	require.NoError(t, u.Update(ctx, req))
	calls := f.Count("samba-tool")

	require.NoError(t, u.Update(ctx, req))
	assert.Equal(t, calls, f.Count("samba-tool"), "second add touches nothing")
	ips, _ := z.LookupA(ctx, "laptop01.linuxmuster.lan")
	assert.Len(t, ips, 1)
}

func TestAddMovesOldAddress(t *testing.T) {
	z, f := newZone(), command.NewFake()
	z.wire(f)
	u := newTestUpdater(z, f)
	ctx := context.Background()

	require.NoError(t, u.Update(ctx, Request{Cmd: CmdAdd, IP: "10.0.0.10", Hostname: "laptop01"}))
	require.NoError(t, u.Update(ctx, Request{Cmd: CmdAdd, IP: "10.0.0.11", Hostname: "laptop01"}))

	ips, _ := z.LookupA(ctx, "laptop01.linuxmuster.lan")
	assert.Equal(t, []string{"10.0.0.11"}, ips)
	names, _ := z.LookupPTR(ctx, "10.0.0.10")
	assert.Empty(t, names)
	assert.Equal(t, 1, f.Count("samba-tool dns zonecreate"))
}

func TestUpdateRejectsBadInput(t *testing.T) {
	z, f := newZone(), command.NewFake()
	z.wire(f)
	u := newTestUpdater(z, f)
	ctx := context.Background()

	assert.ErrorIs(t, u.Update(ctx, Request{Cmd: "update", IP: "10.0.0.1", Hostname: "a"}), ErrInvalidRequest)
	assert.ErrorIs(t, u.Update(ctx, Request{Cmd: CmdAdd, IP: "10.0.0", Hostname: "a"}), ErrInvalidRequest)
	assert.ErrorIs(t, u.Update(ctx, Request{Cmd: CmdAdd, IP: "10.0.0.1", Hostname: "a_b"}), ErrInvalidRequest)
	assert.NoError(t, u.Update(ctx, Request{Cmd: "anything", Hostname: "pxeclient"}))
	assert.Empty(t, f.Calls)
}

func TestDirectoryCheck(t *testing.T) {
	z, f := newZone(), command.NewFake()
	z.wire(f)
	f.On("ldbsearch", command.Response{Output: "sophomorixComputerIP: 10.0.0.5\n"})
	u := newTestUpdater(z, f)
	ctx := context.Background()

	err := u.Update(ctx, Request{Cmd: CmdAdd, IP: "10.0.0.5", Hostname: "ws01"})
	assert.ErrorIs(t, err, ErrNotDynamic)
	assert.Equal(t, 0, f.Count("samba-tool"))
	assert.Equal(t, []string{"ldbsearch -H /var/lib/samba/private/sam.ldb (sAMAccountName=WS01$) sophomorixComputerIP"}, f.Lines())

	require.NoError(t, u.Update(ctx, Request{Cmd: CmdAdd, IP: "10.0.0.5", Hostname: "ws01", SkipAD: "yes"}))
}

func TestAddFailsWhenRecordCannotBeCreated(t *testing.T) {
	z, f := newZone(), command.NewFake()
	z.wire(f)
	f.On("samba-tool dns add localhost linuxmuster.lan", command.Response{ExitCode: 1})
	u := newTestUpdater(z, f)

	err := u.Update(context.Background(), Request{Cmd: CmdAdd, IP: "10.0.0.7", Hostname: "laptop02", SkipAD: "yes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add A record")
}

func TestNewUpdaterReadsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dns-admin")
	require.NoError(t, os.WriteFile(path, []byte("topsecret\n"), 0o600))
	defer logger.ResetRedactions()

	u, err := NewUpdater(config.DNSConfig{SecretFile: path, Server: "localhost"}, "Schule.LAN", command.NewFake(), newZone(), logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "topsecret", u.Password)
	assert.Equal(t, "pc.schule.lan", u.FQDN("PC"))
	assert.Equal(t, "xx ******", logger.RedactString("xx topsecret"))

	_, err = NewUpdater(config.DNSConfig{SecretFile: filepath.Join(t.TempDir(), "missing")}, "d", nil, nil, logger.Discard())
	assert.Error(t, err)
}

func TestDNSResolverAgainstLocalServer(t *testing.T) {
	mux := mdns.NewServeMux()
	mux.HandleFunc("linuxmuster.lan.", func(w mdns.ResponseWriter, r *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if q.Name == "laptop01.linuxmuster.lan." && q.Qtype == mdns.TypeA {
			rr, _ := mdns.NewRR("laptop01.linuxmuster.lan. 300 IN A 10.0.0.123")
			m.Answer = append(m.Answer, rr)
		} else {
			m.Rcode = mdns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})
	mux.HandleFunc("in-addr.arpa.", func(w mdns.ResponseWriter, r *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(r)
		rr, _ := mdns.NewRR("123.0.0.10.in-addr.arpa. 300 IN PTR laptop01.linuxmuster.lan.")
		m.Answer = append(m.Answer, rr)
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	defer srv.Shutdown()
	<-started

	r, err := NewResolver(pc.LocalAddr().String(), "", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	ips, err := r.LookupA(ctx, "laptop01.linuxmuster.lan")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.123"}, ips)

	ips, err = r.LookupA(ctx, "nobody.linuxmuster.lan")
	require.NoError(t, err)
	assert.Empty(t, ips)

	names, err := r.LookupPTR(ctx, "10.0.0.123")
	require.NoError(t, err)
	assert.Equal(t, []string{"laptop01.linuxmuster.lan"}, names)
}

func TestNewResolverFromResolvConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("search linuxmuster.lan\nnameserver 10.0.0.1\n"), 0o644))

	r, err := NewResolver("", path, 0)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:53", r.Server)

	r, err = NewResolver("127.0.0.53", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.53:53", r.Server)
}
