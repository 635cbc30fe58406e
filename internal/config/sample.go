package config

// Sample is the starter configuration written by `coven-voyage init`.
const Sample = `# coven-voyage configuration

agents:
  count: 2
  id_prefix: "bot"
  base_port: 3000        # agent i listens on base_port + i
  create_delay: "5s"
  launch_delay: "5s"
  retry_backoff: "5s"
  join_timeout: "30s"

worker:
  command: ["node", "mineflayer/index.js"]   # the agent's port is appended
  ready_pattern: 'Server started on port (\d+)'
  host: "http://127.0.0.1"
  request_timeout: "10m"
  ready_timeout: "1m"
  stop_grace: "5s"
  exit_wait: "5s"
  max_start_retries: 3

game:
  port: 25565            # or configure game.server to launch one per agent
  # server:
  #   command: ["./start-server.sh"]
  #   ready_pattern: 'Server started on port (\d+)'
  #   ready_timeout: "5m"

skills:
  dir: "./skill_library/trial1/skill"
  max_iterations: 0
  max_consecutive_failures: 10
  inventory:
    wooden_pickaxe: 1

paths:
  log_dir: "./logs"
  checkpoint_dir: "./checkpoint"

database:
  path: "${HOME}/.local/share/coven/voyage.db"
  dedupe_window: "30s"   # identical events from one agent are recorded once per window

status:
  http_addr: "127.0.0.1:8089"

logging:
  level: "info"
  format: "text"
`
