package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigFile 默认配置文件
const DefaultConfigFile = ETCDIR + "/import.yaml"

// Config 应用配置结构
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Log      LogConfig      `mapstructure:"log"`
	Services ServicesConfig `mapstructure:"services"`
	Firewall FirewallConfig `mapstructure:"firewall"`
	DNS      DNSConfig      `mapstructure:"dns"`
	Devices  DevicesConfig  `mapstructure:"devices"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

// PathsConfig 导入工具读写的所有文件和目录，默认值来自常量，测试时指向临时目录
type PathsConfig struct {
	CacheDir         string `mapstructure:"cache_dir"`
	LogDir           string `mapstructure:"log_dir"`
	SetupDefaults    string `mapstructure:"setup_defaults"`
	PrepIni          string `mapstructure:"prep_ini"`
	SetupIni         string `mapstructure:"setup_ini"`
	CustomIni        string `mapstructure:"custom_ini"`
	TmpSetupIni      string `mapstructure:"tmp_setup_ini"`
	SubnetsCSV       string `mapstructure:"subnets_csv"`
	SophoSysDir      string `mapstructure:"sophosys_dir"`
	DHCPSubConf      string `mapstructure:"dhcp_sub_conf"`
	DHCPDevConf      string `mapstructure:"dhcp_dev_conf"`
	DHCPDevDir       string `mapstructure:"dhcp_dev_dir"`
	LinboDir         string `mapstructure:"linbo_dir"`
	LinboGrubDir     string `mapstructure:"linbo_grub_dir"`
	LinboTplDir      string `mapstructure:"linbo_tpl_dir"`
	TplDir           string `mapstructure:"tpl_dir"`
	PostDevImportDir string `mapstructure:"post_dev_import_dir"`
	NetplanCfg       string `mapstructure:"netplan_cfg"`
	NTPConf          string `mapstructure:"ntp_conf"`
	NTPSockDir       string `mapstructure:"ntp_sock_dir"`
	FWConfLocal      string `mapstructure:"fw_conf_local"`
	FWConfRemote     string `mapstructure:"fw_conf_remote"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ServicesConfig 导入后需要重启的系统服务
type ServicesConfig struct {
	Systemctl   string        `mapstructure:"systemctl"`
	DHCP        string        `mapstructure:"dhcp"`
	NTP         string        `mapstructure:"ntp"`
	Netplan     string        `mapstructure:"netplan"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// FirewallConfig 防火墙连接配置
type FirewallConfig struct {
	APIKeys        string        `mapstructure:"api_keys"`
	SSHUser        string        `mapstructure:"ssh_user"`
	SSHKeyFile     string        `mapstructure:"ssh_key_file"`
	SSHPort        int           `mapstructure:"ssh_port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
	ReadyInterval  time.Duration `mapstructure:"ready_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReloadCommands []string      `mapstructure:"reload_commands"`
	MajorVersion   int           `mapstructure:"major_version"`
	VersionCommand string        `mapstructure:"version_command"`
	// BaseURL 覆盖默认的 https://firewall.<domain>/api
	BaseURL string `mapstructure:"base_url"`
}

// DNSConfig 租约钩子调用 samba-tool 所需配置
type DNSConfig struct {
	SambaTool  string        `mapstructure:"samba_tool"`
	LdbSearch  string        `mapstructure:"ldbsearch"`
	SamLdb     string        `mapstructure:"sam_ldb"`
	Server     string        `mapstructure:"server"`
	AdminUser  string        `mapstructure:"admin_user"`
	SecretFile string        `mapstructure:"secret_file"`
	Resolver   string        `mapstructure:"resolver"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DevicesConfig 设备导入前运行的清单检查命令
type DevicesConfig struct {
	SyncCommand []string `mapstructure:"sync_command"`
	SyncFatal   bool     `mapstructure:"sync_fatal"`
}

// JournalConfig 运行记录数据库
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 加载配置文件，路径为空时使用 DefaultConfigFile
// 文件不存在不算错误，默认值即标准安装
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath == "" {
		configPath = DefaultConfigFile
	}
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("LMN_IMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// Default 返回默认配置，不读取任何文件
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.cache_dir", CACHEDIR)
	v.SetDefault("paths.log_dir", LOGDIR)
	v.SetDefault("paths.setup_defaults", SETUPDEFAULTS)
	v.SetDefault("paths.prep_ini", PREPINI)
	v.SetDefault("paths.setup_ini", SETUPINI)
	v.SetDefault("paths.custom_ini", CUSTOMINI)
	v.SetDefault("paths.tmp_setup_ini", TMPSETUPINI)
	v.SetDefault("paths.subnets_csv", SUBNETSCSV)
	v.SetDefault("paths.sophosys_dir", SOPHOSYSDIR)
	v.SetDefault("paths.dhcp_sub_conf", DHCPSUBCONF)
	v.SetDefault("paths.dhcp_dev_conf", DHCPDEVCONF)
	v.SetDefault("paths.dhcp_dev_dir", DHCPDEVDIR)
	v.SetDefault("paths.linbo_dir", LINBODIR)
	v.SetDefault("paths.linbo_grub_dir", LINBOGRUBDIR)
	v.SetDefault("paths.linbo_tpl_dir", LINBOTPLDIR)
	v.SetDefault("paths.tpl_dir", TPLDIR)
	v.SetDefault("paths.post_dev_import_dir", POSTDEVIMPORTDIR)
	v.SetDefault("paths.netplan_cfg", NETPLANCFG)
	v.SetDefault("paths.ntp_conf", NTPCONF)
	v.SetDefault("paths.ntp_sock_dir", NTPSOCKDIR)
	v.SetDefault("paths.fw_conf_local", FWCONFLOCAL)
	v.SetDefault("paths.fw_conf_remote", FWCONFREMOTE)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "file")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 90)
	v.SetDefault("log.compress", true)

	v.SetDefault("services.systemctl", "systemctl")
	v.SetDefault("services.dhcp", "isc-dhcp-server")
	v.SetDefault("services.ntp", "ntp")
	v.SetDefault("services.netplan", "netplan")
	v.SetDefault("services.settle_delay", time.Second)

	v.SetDefault("firewall.api_keys", FWAPIKEYS)
	v.SetDefault("firewall.ssh_user", "root")
	v.SetDefault("firewall.ssh_key_file", "/root/.ssh/id_rsa")
	v.SetDefault("firewall.ssh_port", 22)
	v.SetDefault("firewall.connect_timeout", 10*time.Second)
	v.SetDefault("firewall.ready_timeout", 300*time.Second)
	v.SetDefault("firewall.ready_interval", 2*time.Second)
	v.SetDefault("firewall.request_timeout", 30*time.Second)
	v.SetDefault("firewall.reload_commands", []string{"/usr/local/etc/rc.reload_all"})
	v.SetDefault("firewall.major_version", FWMAJORVER)
	v.SetDefault("firewall.version_command", "opnsense-version -v")

	v.SetDefault("dns.samba_tool", "samba-tool")
	v.SetDefault("dns.ldbsearch", "ldbsearch")
	v.SetDefault("dns.sam_ldb", SAMLDB)
	v.SetDefault("dns.server", "localhost")
	v.SetDefault("dns.admin_user", "dns-admin")
	v.SetDefault("dns.secret_file", DNSADMINSECRET)
	v.SetDefault("dns.timeout", 5*time.Second)

	v.SetDefault("devices.sync_command", []string{"sophomorix-device", "--sync"})
	v.SetDefault("devices.sync_fatal", true)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", CACHEDIR+"/import.db")
}

// LogFile 返回工具对应的日志文件
func (c *Config) LogFile(tool string) string {
	return strings.TrimRight(c.Paths.LogDir, "/") + "/" + tool + ".log"
}

// SetupFiles 按优先级从低到高列出 setup INI 文件
func (c *Config) SetupFiles() []string {
	return []string{c.Paths.SetupDefaults, c.Paths.PrepIni, c.Paths.SetupIni, c.Paths.CustomIni}
}

// Rebase 将所有路径移到 root 之下，供测试和演练使用
func (c *Config) Rebase(root string) {
	r := func(p string) string { return strings.TrimRight(root, "/") + p }
	p := &c.Paths
	for _, f := range []*string{
		&p.CacheDir, &p.LogDir, &p.SetupDefaults, &p.PrepIni, &p.SetupIni, &p.CustomIni,
		&p.TmpSetupIni, &p.SubnetsCSV, &p.SophoSysDir, &p.DHCPSubConf, &p.DHCPDevConf,
		&p.DHCPDevDir, &p.LinboDir, &p.LinboGrubDir, &p.LinboTplDir, &p.TplDir,
		&p.PostDevImportDir, &p.NetplanCfg, &p.NTPConf, &p.NTPSockDir, &p.FWConfLocal,
	} {
		*f = r(*f)
	}
	c.Firewall.APIKeys = r(c.Firewall.APIKeys)
	c.DNS.SecretFile = r(c.DNS.SecretFile)
	c.Journal.Path = r(c.Journal.Path)
}
