package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("module", "config")

const (
	defaultInterval = 1.0 // 默认模拟步长（秒）
)

// RuntimeConfig 运行时配置
// 功能：存储仿真运行时的配置信息
// 说明：将YAML配置补全默认值后供各模块读取
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
	M   Model   // 驾驶行为模型配置
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：创建运行时配置对象，补全默认值
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针
// 算法说明：
// 1. 未指定模拟步长时使用默认值
// 2. 未指定跟驰模型时使用idm+
func NewRuntimeConfig(config Config) *RuntimeConfig {
	rc := &RuntimeConfig{}

	if config.Control.Step.Interval <= 0 {
		log.Warnf("invalid step interval %v, use default %v", config.Control.Step.Interval, defaultInterval)
		config.Control.Step.Interval = defaultInterval
	}
	if config.Model.CarFollowing == "" {
		config.Model.CarFollowing = "idm+"
	}

	rc.All = config
	rc.C = config.Control
	rc.M = config.Model

	return rc
}

// Parse 解析YAML配置
// 功能：严格解析配置文件内容，拒绝未知字段
// 参数：data-YAML文本
// 返回：配置对象，错误信息
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("config file load err: %w", err)
	}
	if c.Control.Step.Total <= 0 {
		return Config{}, fmt.Errorf("control.step.total must be positive, got %d", c.Control.Step.Total)
	}
	for _, sign := range c.Control.SpeedLimitSigns {
		if sign.Limit <= 0 {
			return Config{}, fmt.Errorf("speed limit sign on lane %d at %v has non-positive limit %v", sign.Lane, sign.S, sign.Limit)
		}
	}
	return c, nil
}
