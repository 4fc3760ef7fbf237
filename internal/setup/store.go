// Package setup 提供合并后的 setup INI 值的类型化访问
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/linuxmuster/linuxmuster-base/internal/util"
)

// Section 所有 setup 值所在的 INI 段
const Section = "setup"

// Store 合并 setup INI 文件，后面的文件覆盖前面的
type Store struct {
	file *ini.File
}

// Load 按优先级从低到高合并文件，不存在的文件跳过，无法读取或格式错误的文件报错
func Load(paths ...string) (*Store, error) {
	f := ini.Empty()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if err := f.Append(p); err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
	}
	return &Store{file: f}, nil
}

// FromMap 由字面值构造 Store
func FromMap(values map[string]string) *Store {
	f := ini.Empty()
	sec, _ := f.NewSection(Section)
	for k, v := range values {
		_, _ = sec.NewKey(k, v)
	}
	return &Store{file: f}
}

func (s *Store) section() *ini.Section {
	return s.file.Section(Section)
}

// Get 返回 key 的值：True/False 返回 bool，其余返回字符串，缺失时返回 ""
func (s *Store) Get(key string) any {
	v := s.String(key)
	switch v {
	case "True":
		return true
	case "False":
		return false
	}
	return v
}

// String 返回原始值，缺失时返回 ""
func (s *Store) String(key string) string {
	if !s.section().HasKey(key) {
		return ""
	}
	return strings.TrimSpace(s.section().Key(key).String())
}

// Bool 仅在值为 True（不区分大小写，也接受 yes/1）时返回 true
func (s *Store) Bool(key string) bool {
	switch strings.ToLower(s.String(key)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

// Set 在内存中设置值
func (s *Store) Set(key string, value string) {
	s.section().Key(key).SetValue(value)
}

// Keys 列出 setup 段的所有键
func (s *Store) Keys() []string {
	return s.section().KeyStrings()
}

// Derive 根据 domainname、servername、serverip 和 bitmask 计算派生值
func (s *Store) Derive() error {
	domain := strings.ToLower(s.String("domainname"))
	if domain == "" {
		return fmt.Errorf("setup value domainname is missing")
	}
	s.Set("realm", strings.ToUpper(domain))
	s.Set("sambadomain", strings.ToUpper(strings.SplitN(domain, ".", 2)[0]))
	s.Set("basedn", "DC="+strings.ReplaceAll(domain, ".", ",DC="))
	if server := s.String("servername"); server != "" {
		s.Set("netbiosname", strings.ToUpper(server))
	}

	serverIP := s.String("serverip")
	bitmask := s.String("bitmask")
	info, err := util.DeriveNetwork(serverIP, bitmask)
	if err != nil {
		return fmt.Errorf("derive network from %s/%s: %w", serverIP, bitmask, err)
	}
	s.Set("netmask", info.Netmask)
	s.Set("network", info.Network)
	s.Set("broadcast", info.Broadcast)

	start, end := DefaultDHCPRange(serverIP, info.Bitmask)
	s.Set("dhcprange", start+" "+end)
	s.Set("dhcprange1", start)
	s.Set("dhcprange2", end)
	return nil
}

// DefaultDHCPRange 返回管理员未指定时使用的地址池：
// /16 及更大的网络为 x.y.255.1-x.y.255.254，否则为 x.y.z.201-x.y.z.250
func DefaultDHCPRange(serverIP string, bitmask int) (string, string) {
	o := util.Octets(serverIP)
	if len(o) != 4 {
		return "", ""
	}
	if bitmask <= 16 {
		prefix := o[0] + "." + o[1] + ".255."
		return prefix + "1", prefix + "254"
	}
	prefix := o[0] + "." + o[1] + "." + o[2] + "."
	return prefix + "201", prefix + "250"
}

// Save 以 0600 权限将合并后的 setup 段写入 path
func (s *Store) Save(path string) error {
	return s.saveSection(path, nil)
}

// SaveBootstrapCopy 写入供其他设备引导使用的副本，清空管理员密码
func (s *Store) SaveBootstrapCopy(path string) error {
	return s.saveSection(path, map[string]string{"adminpw": ""})
}

func (s *Store) saveSection(path string, override map[string]string) error {
	out := ini.Empty()
	sec, err := out.NewSection(Section)
	if err != nil {
		return err
	}
	for _, k := range s.section().Keys() {
		v := k.String()
		if o, ok := override[k.Name()]; ok {
			v = o
		}
		if _, err := sec.NewKey(k.Name(), v); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := out.SaveTo(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// EnsureDerived 首次完整加载且 realm 尚未设置时计算并保存派生值
func (s *Store) EnsureDerived(setupPath string, bootstrapPath string) (bool, error) {
	if s.String("realm") != "" {
		return false, nil
	}
	if err := s.Derive(); err != nil {
		return false, err
	}
	if err := s.Save(setupPath); err != nil {
		return false, err
	}
	if bootstrapPath != "" {
		if err := s.SaveBootstrapCopy(bootstrapPath); err != nil {
			return false, err
		}
	}
	return true, nil
}
