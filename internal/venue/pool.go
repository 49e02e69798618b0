package venue

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// RaydiumAMMv4 是 Raydium AMM v4 程序地址。
var RaydiumAMMv4 = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

// PoolKeys 列出一次 swap_base_in 所需的资金池与订单簿账户。
type PoolKeys struct {
	Name              string
	ProgramID         solana.PublicKey
	Amm               solana.PublicKey
	AmmAuthority      solana.PublicKey
	OpenOrders        solana.PublicKey
	TargetOrders      solana.PublicKey
	CoinVault         solana.PublicKey
	PcVault           solana.PublicKey
	MarketProgram     solana.PublicKey
	Market            solana.PublicKey
	Bids              solana.PublicKey
	Asks              solana.PublicKey
	EventQueue        solana.PublicKey
	MarketCoinVault   solana.PublicKey
	MarketPcVault     solana.PublicKey
	MarketVaultSigner solana.PublicKey
	CoinMint          solana.PublicKey
	PcMint            solana.PublicKey

	// Reserves 仅用于模拟器。
	CoinReserve uint64
	PcReserve   uint64
}

// Funding 为模拟器预置所有者的代币余额。
type Funding struct {
	Owner  solana.PublicKey
	Mint   solana.PublicKey
	Amount uint64
}

type poolFile struct {
	Pools   map[string]poolEntry `yaml:"pools"`
	Funding []fundingEntry       `yaml:"funding"`
}

type poolEntry struct {
	ProgramID         string `yaml:"program_id"`
	Amm               string `yaml:"amm"`
	AmmAuthority      string `yaml:"amm_authority"`
	OpenOrders        string `yaml:"open_orders"`
	TargetOrders      string `yaml:"target_orders"`
	CoinVault         string `yaml:"coin_vault"`
	PcVault           string `yaml:"pc_vault"`
	MarketProgram     string `yaml:"market_program"`
	Market            string `yaml:"market"`
	Bids              string `yaml:"bids"`
	Asks              string `yaml:"asks"`
	EventQueue        string `yaml:"event_queue"`
	MarketCoinVault   string `yaml:"market_coin_vault"`
	MarketPcVault     string `yaml:"market_pc_vault"`
	MarketVaultSigner string `yaml:"market_vault_signer"`
	CoinMint          string `yaml:"coin_mint"`
	PcMint            string `yaml:"pc_mint"`
	CoinReserve       uint64 `yaml:"coin_reserve"`
	PcReserve         uint64 `yaml:"pc_reserve"`
}

type fundingEntry struct {
	Owner  string `yaml:"owner"`
	Mint   string `yaml:"mint"`
	Amount uint64 `yaml:"amount"`
}

// Registry 保存按名称索引的资金池。
type Registry struct {
	mu      sync.RWMutex
	pools   map[string]PoolKeys
	funding []Funding
}

// NewRegistry 使用给定资金池构造 Registry。
func NewRegistry(pools ...PoolKeys) *Registry {
	r := &Registry{pools: make(map[string]PoolKeys, len(pools))}
	for _, p := range pools {
		r.Register(p)
	}
	return r
}

// LoadRegistry 从 YAML 文件读取资金池定义。
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry 解析 YAML 资金池定义。
func ParseRegistry(data []byte) (*Registry, error) {
	var file poolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode pools file: %w", err)
	}

	r := NewRegistry()
	for name, entry := range file.Pools {
		keys, err := entry.keys(name)
		if err != nil {
			return nil, err
		}
		r.Register(keys)
	}
	for i, f := range file.Funding {
		owner, err := solana.PublicKeyFromBase58(f.Owner)
		if err != nil {
			return nil, fmt.Errorf("funding[%d].owner: %w", i, err)
		}
		mint, err := solana.PublicKeyFromBase58(f.Mint)
		if err != nil {
			return nil, fmt.Errorf("funding[%d].mint: %w", i, err)
		}
		r.funding = append(r.funding, Funding{Owner: owner, Mint: mint, Amount: f.Amount})
	}
	return r, nil
}

func (e poolEntry) keys(name string) (PoolKeys, error) {
	keys := PoolKeys{Name: name, ProgramID: RaydiumAMMv4, CoinReserve: e.CoinReserve, PcReserve: e.PcReserve}
	fields := []struct {
		field    string
		value    string
		target   *solana.PublicKey
		optional bool
	}{
		{"program_id", e.ProgramID, &keys.ProgramID, true},
		{"amm", e.Amm, &keys.Amm, false},
		{"amm_authority", e.AmmAuthority, &keys.AmmAuthority, false},
		{"open_orders", e.OpenOrders, &keys.OpenOrders, false},
		{"target_orders", e.TargetOrders, &keys.TargetOrders, false},
		{"coin_vault", e.CoinVault, &keys.CoinVault, false},
		{"pc_vault", e.PcVault, &keys.PcVault, false},
		{"market_program", e.MarketProgram, &keys.MarketProgram, false},
		{"market", e.Market, &keys.Market, false},
		{"bids", e.Bids, &keys.Bids, false},
		{"asks", e.Asks, &keys.Asks, false},
		{"event_queue", e.EventQueue, &keys.EventQueue, false},
		{"market_coin_vault", e.MarketCoinVault, &keys.MarketCoinVault, false},
		{"market_pc_vault", e.MarketPcVault, &keys.MarketPcVault, false},
		{"market_vault_signer", e.MarketVaultSigner, &keys.MarketVaultSigner, false},
		{"coin_mint", e.CoinMint, &keys.CoinMint, false},
		{"pc_mint", e.PcMint, &keys.PcMint, false},
	}
	for _, f := range fields {
		value := strings.TrimSpace(f.value)
		if value == "" {
			if f.optional {
				continue
			}
			return PoolKeys{}, fmt.Errorf("pool %s: %s is required", name, f.field)
		}
		key, err := solana.PublicKeyFromBase58(value)
		if err != nil {
			return PoolKeys{}, fmt.Errorf("pool %s: %s: %w", name, f.field, err)
		}
		*f.target = key
	}
	if keys.CoinMint.Equals(keys.PcMint) {
		return PoolKeys{}, fmt.Errorf("pool %s: coin_mint and pc_mint must differ", name)
	}
	return keys, nil
}

// Register 添加或替换资金池。
func (r *Registry) Register(keys PoolKeys) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if keys.ProgramID.IsZero() {
		keys.ProgramID = RaydiumAMMv4
	}
	r.pools[keys.Name] = keys
}

// Get 按名称返回资金池。
func (r *Registry) Get(name string) (PoolKeys, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys, ok := r.pools[name]
	return keys, ok
}

// Names 返回排序后的资金池名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pools 返回全部资金池。
func (r *Registry) Pools() []PoolKeys {
	names := r.Names()
	out := make([]PoolKeys, 0, len(names))
	for _, name := range names {
		keys, _ := r.Get(name)
		out = append(out, keys)
	}
	return out
}

// Funding 返回模拟器的预置余额。
func (r *Registry) Funding() []Funding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Funding(nil), r.funding...)
}
