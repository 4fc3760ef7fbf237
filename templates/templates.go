// Package templates 内置默认模板，安装目录未提供模板时使用
package templates

import "embed"

// FS 包含 linbo/* 和 ntp/*
//
//go:embed linbo ntp
var FS embed.FS
