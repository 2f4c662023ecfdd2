package config

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func validConfig() *Config {
	claude := DefaultClaudeConfig()
	claude.APIKey = "sk-test"
	return &Config{
		Server: ServerConfig{Port: 7080, Mode: "release"},
		Claude: claude,
	}
}

func TestConfig_Validate(t *testing.T) {
	Convey("Config.Validate 校验服务器与 Claude 配置", t, func() {
		Convey("默认配置 + API key 校验通过", func() {
			So(validConfig().Validate(), ShouldBeNil)
		})

		Convey("端口非法", func() {
			cfg := validConfig()
			cfg.Server.Port = 0
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("缺少 API key", func() {
			cfg := validConfig()
			cfg.Claude.APIKey = ""
			err := cfg.Validate()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "api_key")
		})

		Convey("文件大小上限必须为正数", func() {
			cfg := validConfig()
			cfg.Claude.MaxFileSize = 0
			So(cfg.Validate(), ShouldNotBeNil)
		})
	})
}

func TestClaudeConfig_ResolveModel(t *testing.T) {
	Convey("ResolveModel 映射模型别名", t, func() {
		cfg := DefaultClaudeConfig()

		Convey("空名称返回默认模型", func() {
			m, ok := cfg.ResolveModel("")
			So(ok, ShouldBeTrue)
			So(m, ShouldEqual, DefaultClaudeModel)
		})

		Convey("友好名称映射为完整ID", func() {
			m, ok := cfg.ResolveModel("claude-opus-4")
			So(ok, ShouldBeTrue)
			So(m, ShouldEqual, "claude-opus-4-20250514")
		})

		Convey("完整ID原样接受", func() {
			m, ok := cfg.ResolveModel("claude-sonnet-4-5-20250929")
			So(ok, ShouldBeTrue)
			So(m, ShouldEqual, "claude-sonnet-4-5-20250929")
		})

		Convey("未知模型被拒绝", func() {
			_, ok := cfg.ResolveModel("gpt-4")
			So(ok, ShouldBeFalse)
		})
	})
}
