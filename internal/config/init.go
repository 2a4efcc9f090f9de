package config

import (
	"fmt"
	"os"
)

const exampleConfig = `# relbuilder release configuration
project:
  name: puzzle
  # version: 1.0.0   # omitted: derived from git describe

toolchains:
  - name: trunk
    min_version: "0.17"
    install_cmd: cargo install --locked trunk

steps:
  - name: frontend
    run: trunk build --release
    dir: crates/client
    produces: crates/client/dist

  - name: server
    run: cargo build --release --bin server
    produces: target/release/server

archive:
  flatten:
    - target/release/server
    - run.sh
  asset_dir: crates/client/dist

verify:
  checksums: true
  html_assets: true
  extract: true

notes:
  source: CHANGELOG.md

daemon:
  watch_paths: [crates, src]
  interval: 0s
  metrics_addr: ":9185"
`

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
