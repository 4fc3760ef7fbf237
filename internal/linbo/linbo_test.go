package linbo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxmuster/linuxmuster-base/internal/config"
	"github.com/linuxmuster/linuxmuster-base/internal/inventory"
	"github.com/linuxmuster/linuxmuster-base/internal/storage"
	"github.com/linuxmuster/linuxmuster-base/pkg/logger"
)

const win10StartConf = `[LINBO]
Server = 10.0.0.1
Group = win10room
Cache = /dev/sda2
KernelOptions = quiet splash

[Partition]
Dev = /dev/sda1
Label = windows

[Partition]
Dev = /dev/sda2
Label = cache

[OS]
Name = Windows 10
BaseImage = win10.qcow2
Root = /dev/sda1
Kernel = auto
`

func newTestSynth(t *testing.T) *Synthesizer {
	t.Helper()
	root := t.TempDir()
	return &Synthesizer{
		LinboDir:  filepath.Join(root, "srv", "linbo"),
		GrubDir:   filepath.Join(root, "srv", "linbo", "boot", "grub"),
		CacheDir:  filepath.Join(root, "cache"),
		ServerIP:  "10.0.0.1",
		Templates: Templates{Dir: filepath.Join(root, "tpl"), Embedded: "linbo"},
		Writer:    storage.NewWriter(),
		Log:       logger.Discard(),
	}
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestGrubPartition(t *testing.T) {
	cases := []struct {
		dev   string
		token string
		part  int
	}{
		{"/dev/sda2", "(hd0,2)", 2},
		{"/dev/hdb1", "(hd1,1)", 1},
		{"/dev/vdc12", "(hd2,12)", 12},
		{"/dev/xvda3", "(hd0,3)", 3},
		{"/dev/mmcblk0p4", "(hd0,4)", 4},
		{"/dev/nvme0n1p3", "(hd0,3)", 3},
		{"/dev/nvme0n2p1", "(hd1,1)", 1},
	}
	for _, c := range cases {
		token, part, err := GrubPartition(c.dev)
		require.NoError(t, err, c.dev)
		assert.Equal(t, c.token, token, c.dev)
		assert.Equal(t, c.part, part, c.dev)
	}

	for _, bad := range []string{"", "/dev/sda", "/dev/nvme1n1p1", "/dev/nvme0n0p1", "/dev/loop0"} {
		_, _, err := GrubPartition(bad)
		assert.Error(t, err, bad)
	}
}

func TestOSType(t *testing.T) {
	assert.Equal(t, "win10", OSType("Windows 10"))
	assert.Equal(t, "win", OSType("Windows 11 Pro"))
	assert.Equal(t, "linuxmint", OSType("Mint 21"))
	assert.Equal(t, "ubuntu", OSType("My Ubuntu 22.04"))
	assert.Equal(t, "kubuntu", OSType("kubuntu lab"))
	assert.Equal(t, "win10", OSType("Lab win10"))
	assert.Equal(t, "opensuse", OSType("openSUSE Leap"))
	assert.Equal(t, "unknown", OSType("FreeDOS"))
}

func TestRender(t *testing.T) {
	out, err := Render("a @@x@@ b @@x@@", map[string]string{"x": "1"})
	require.NoError(t, err)
	assert.Equal(t, "a 1 b 1", out)

	_, err = Render("@@x@@ @@y@@", map[string]string{"x": "1"})
	require.ErrorIs(t, err, ErrTemplate)
	assert.Contains(t, err.Error(), "@@y@@")
}

func TestRenderKeepsPlaceholdersInValues(t *testing.T) {
	out, err := Render("append @@append@@", map[string]string{"append": "quiet @@x@@"})
	require.NoError(t, err)
	assert.Equal(t, "append quiet @@x@@", out)
}

func TestTemplatesPreferInstalledCopy(t *testing.T) {
	s := newTestSynth(t)
	writeFile(t, filepath.Join(s.Templates.Dir, TplForcedNetboot), "custom @@group@@\n")

	out, err := s.Templates.RenderFile(TplForcedNetboot, map[string]string{"group": "g"})
	require.NoError(t, err)
	assert.Equal(t, "custom g\n", out)

	stock, err := s.Templates.Load(TplGlobal)
	require.NoError(t, err)
	assert.Contains(t, stock, config.GRUBMARKER)

	_, err = s.Templates.Load("nope")
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestParseStartConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "start.conf.g")
	writeFile(t, path, `[linbo]
cache = /dev/sda4 # comment
KERNELOPTIONS = quiet
[Partition]
Dev = /dev/sda1
Label = win
[OS]
Name = A
Root = /dev/sda1
[Partition]
Dev = /dev/sda4
[OS]
Name = B
BaseImage = b.iso
`)
	c, err := ParseStartConf(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda4", c.Cache)
	assert.Equal(t, "quiet", c.KernelOptions)
	require.Len(t, c.Partitions, 2)
	assert.Equal(t, "/dev/sda4", c.Partitions[1].Dev)
	require.Len(t, c.OS, 2)
	assert.Equal(t, "A", c.OS[0].Name)
	assert.True(t, c.OS[1].IsISO())

	_, err = ParseStartConf(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestWriteGroupConfigHappyPath(t *testing.T) {
	s := newTestSynth(t)
	writeFile(t, s.StartConfPath("win10room"), win10StartConf)

	obj, err := s.WriteGroupConfig("win10room")
	require.NoError(t, err)
	assert.True(t, obj.Changed)

	cfg := readFile(t, s.GroupConfigPath("win10room"))
	assert.Contains(t, cfg, config.GRUBMARKER)
	assert.Contains(t, cfg, "set cacheroot=(hd0,2)")
	assert.Contains(t, cfg, `set cachelabel="cache"`)
	assert.Contains(t, cfg, "--class win10_start")
	assert.Contains(t, cfg, "root=LABEL=windows")
	assert.Contains(t, cfg, "quiet splash")
	assert.NotContains(t, cfg, "@@")

	again, err := s.WriteGroupConfig("win10room")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, obj.Checksum, again.Checksum)
}

func TestWriteGroupConfigRootFallsBackToDevice(t *testing.T) {
	s := newTestSynth(t)
	writeFile(t, s.StartConfPath("lin"), `[LINBO]
Cache = /dev/sda2
[Partition]
Dev = /dev/sda1
[Partition]
Dev = /dev/sda2
[OS]
Name = Ubuntu
Root = /dev/sda1
Append = ro splash
[OS]
Name = Rescue
BaseImage = rescue.iso
Append = quiet
`)
	_, err := s.WriteGroupConfig("lin")
	require.NoError(t, err)

	cfg := readFile(t, s.GroupConfigPath("lin"))
	assert.Contains(t, cfg, "ro splash root=/dev/sda1")
	assert.Contains(t, cfg, `set isofile="/rescue.iso"`)
	assert.NotContains(t, cfg, "quiet root=")
}

func TestWriteGroupConfigForcedNetboot(t *testing.T) {
	s := newTestSynth(t)
	writeFile(t, s.StartConfPath("nocache"), "[LINBO]\nKernelOptions = dhcpretry=9\n[OS]\nName = Windows 10\n")
	writeFile(t, s.StartConfPath("badcache"), "[LINBO]\nCache = /dev/sdb9\n[Partition]\nDev = /dev/sda1\n")

	for _, g := range []string{"nocache", "badcache"} {
		_, err := s.WriteGroupConfig(g)
		require.NoError(t, err)
		cfg := readFile(t, s.GroupConfigPath(g))
		assert.Contains(t, cfg, "forced netboot")
		assert.NotContains(t, cfg, "_start", "no os entries")
	}
	assert.Contains(t, readFile(t, s.GroupConfigPath("nocache")), "dhcpretry=9")
}

func TestWriteGroupConfigKeepsUnmanagedFile(t *testing.T) {
	s := newTestSynth(t)
	writeFile(t, s.StartConfPath("manual"), win10StartConf)
	writeFile(t, s.GroupConfigPath("manual"), "# hand made\n")

	_, err := s.WriteGroupConfig("manual")
	require.NoError(t, err)
	assert.Equal(t, "# hand made\n", readFile(t, s.GroupConfigPath("manual")))
}

func TestWriteGroupConfigCreatesMissingStartConf(t *testing.T) {
	s := newTestSynth(t)

	_, err := s.WriteGroupConfig("newroom")
	require.NoError(t, err)

	conf, err := ParseStartConf(s.StartConfPath("newroom"))
	require.NoError(t, err)
	assert.Equal(t, "newroom", conf.Group)
	assert.Equal(t, "10.0.0.1", conf.Server)
	assert.Contains(t, readFile(t, s.GroupConfigPath("newroom")), "set cacheroot=(hd0,4)")

	created, err := s.EnsureStartConf("newroom")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestWriteGroupConfigTemplateError(t *testing.T) {
	s := newTestSynth(t)
	writeFile(t, s.StartConfPath("g"), win10StartConf)
	writeFile(t, filepath.Join(s.Templates.Dir, TplOS), "@@osname@@ @@undefined@@\n")

	_, err := s.WriteGroupConfig("g")
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestHostLinksLifecycle(t *testing.T) {
	s := newTestSynth(t)
	devices := []inventory.Device{
		{Hostname: "ws01", Group: "win10room", MAC: "aa:bb:cc:dd:ee:01", IP: "10.0.0.50", PXEFlag: 1},
		{Hostname: "prn01", Group: "nopxe", MAC: "aa:bb:cc:dd:ee:03", IP: "10.0.0.60", PXEFlag: 0},
		{Hostname: "lap01", Group: "linuxroom", MAC: "AA:BB:CC:DD:EE:02", IP: inventory.DHCP, PXEFlag: 1},
	}

	groups, err := s.WriteLinksManifest("default-school", devices)
	require.NoError(t, err)
	assert.Equal(t, []string{"linuxroom", "win10room"}, groups)

	// 上次运行留下的旧链接
	require.NoError(t, os.MkdirAll(s.HostCfgDir(), 0o755))
	require.NoError(t, os.Symlink("start.conf.old", filepath.Join(s.LinboDir, "start.conf-10.0.0.99")))
	require.NoError(t, os.Symlink("../old.cfg", filepath.Join(s.HostCfgDir(), "gone.cfg")))
	writeFile(t, filepath.Join(s.LinboDir, "start.conf-regular"), "keep")

	removed, err := s.RemoveHostLinks()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.FileExists(t, filepath.Join(s.LinboDir, "start.conf-regular"))

	created, err := s.ReplayManifests()
	require.NoError(t, err)
	assert.Equal(t, 4, created)

	target, err := os.Readlink(filepath.Join(s.LinboDir, "start.conf-10.0.0.50"))
	require.NoError(t, err)
	assert.Equal(t, "start.conf.win10room", target)

	target, err = os.Readlink(filepath.Join(s.HostCfgDir(), "ws01.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "../win10room.cfg", target)

	target, err = os.Readlink(filepath.Join(s.LinboDir, "start.conf-aa:bb:cc:dd:ee:02"))
	require.NoError(t, err)
	assert.Equal(t, "start.conf.linuxroom", target)

	_, err = os.Lstat(filepath.Join(s.HostCfgDir(), "prn01.cfg"))
	assert.True(t, os.IsNotExist(err), "non-pxe device gets no link")
	_, err = os.Lstat(filepath.Join(s.HostCfgDir(), "gone.cfg"))
	assert.True(t, os.IsNotExist(err))
}

func TestReplayManifestsAcrossSchools(t *testing.T) {
	s := newTestSynth(t)
	_, err := s.WriteLinksManifest("default-school", []inventory.Device{
		{Hostname: "pc01", Group: "a", IP: "10.0.0.5", PXEFlag: 1},
	})
	require.NoError(t, err)
	_, err = s.WriteLinksManifest("school2", []inventory.Device{
		{Hostname: "school2-pc01", Group: "b", IP: "10.1.0.5", PXEFlag: 2},
	})
	require.NoError(t, err)

	created, err := s.ReplayManifests()
	require.NoError(t, err)
	assert.Equal(t, 4, created)
	assert.FileExists(t, s.ManifestPath("school2"))

	links, err := ReadManifest(s.ManifestPath("school2"))
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "start.conf.b", links[0].Source)
	assert.Equal(t, filepath.Join(s.HostCfgDir(), "school2-pc01.cfg"), links[1].Target)
}
