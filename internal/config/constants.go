package config

// 文件系统根目录，其余路径均由此派生
const (
	ETCDIR   = "/etc/linuxmuster"
	SHAREDIR = "/usr/share/linuxmuster"
	CACHEDIR = "/var/cache/linuxmuster"
	LOGDIR   = "/var/log/linuxmuster"
	VARDIR   = "/var/lib/linuxmuster"
	LINBODIR = "/srv/linbo"
)

const (
	SECRETDIR      = ETCDIR + "/.secret"
	DNSADMINSECRET = SECRETDIR + "/dns-admin"
	FWAPIKEYS      = SECRETDIR + "/firewall.api.ini"

	SETUPDEFAULTS = SHAREDIR + "/setup.defaults.ini"
	PREPINI       = VARDIR + "/prep.ini"
	SETUPINI      = VARDIR + "/setup.ini"
	CUSTOMINI     = VARDIR + "/custom.ini"
	TMPSETUPINI   = "/tmp/setup.ini"

	SUBNETSCSV    = ETCDIR + "/subnets.csv"
	SOPHOSYSDIR   = ETCDIR + "/sophomorix"
	DEFAULTSCHOOL = "default-school"

	DHCPSUBCONF = "/etc/dhcp/subnets.conf"
	DHCPDEVCONF = "/etc/dhcp/devices.conf"
	DHCPDEVDIR  = "/etc/dhcp/devices"

	LINBOGRUBDIR     = LINBODIR + "/boot/grub"
	LINBOTPLDIR      = SHAREDIR + "/templates/linbo"
	TPLDIR           = SHAREDIR + "/templates"
	POSTDEVIMPORTDIR = VARDIR + "/hooks/device-import.post.d"

	NETPLANCFG = "/etc/netplan/01-netcfg.yaml"
	NTPCONF    = "/etc/ntp.conf"
	NTPSOCKDIR = "/var/lib/samba/ntp_signd"

	FWCONFLOCAL  = CACHEDIR + "/opnsense.xml"
	FWCONFREMOTE = "/conf/config.xml"
	FWMAJORVER   = 24

	SAMLDB = "/var/lib/samba/private/sam.ldb"
)

// 管理标记：标识由导入工具维护的防火墙和引导项，管理员自建的条目不带这些标记
// 各版本之间必须保持逐字节一致
const (
	FWGATEWAYDESCR = "Interface LAN Gateway"
	FWGATEWAYNAME  = "LAN_GW"
	FWNATDESCR     = "Outbound NAT rule for subnet"
	FWROUTEDESCR   = "Route for subnet"
	GRUBMARKER     = "managed by linuxmuster.net"
)
