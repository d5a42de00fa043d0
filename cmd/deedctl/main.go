package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listingResult struct {
	TokenID          uint64          `json:"tokenId"`
	Seller           string          `json:"seller"`
	Buyer            string          `json:"buyer"`
	PurchasePrice    string          `json:"purchasePrice"`
	EscrowAmount     string          `json:"escrowAmount"`
	HeldAmount       string          `json:"heldAmount"`
	InspectionPassed bool            `json:"inspectionPassed"`
	Approvals        map[string]bool `json:"approvals"`
	Status           string          `json:"status"`
	CreatedAt        int64           `json:"createdAt"`
}

type deedResult struct {
	TokenID  uint64 `json:"tokenId"`
	Owner    string `json:"owner"`
	Approved string `json:"approved,omitempty"`
	URI      string `json:"uri"`
	MintedAt int64  `json:"mintedAt"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

type partiesResult struct {
	Seller    string `json:"seller"`
	Inspector string `json:"inspector"`
	Lender    string `json:"lender"`
	Vault     string `json:"vault"`
}

func main() {
	defaultRPC := strings.TrimSpace(os.Getenv("DEED_RPC_URL"))
	if defaultRPC == "" {
		defaultRPC = "http://127.0.0.1:8545"
	}
	defaultAuth := strings.TrimSpace(os.Getenv("DEED_RPC_TOKEN"))

	root := flag.NewFlagSet("deedctl", flag.ExitOnError)
	rpcURL := root.String("rpc", defaultRPC, "JSON-RPC endpoint")
	authToken := root.String("auth", defaultAuth, "Bearer token for authenticated RPC calls")
	root.Parse(os.Args[1:])

	args := root.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}

	code := 0
	switch args[0] {
	case "list":
		code = runListCommand(*rpcURL, *authToken, args[1:])
	case "deposit":
		code = runFundCommand(*rpcURL, *authToken, "escrow_downPayment", "deposit", args[1:])
	case "fund-loan":
		code = runFundCommand(*rpcURL, *authToken, "escrow_fundLoan", "fund-loan", args[1:])
	case "inspect":
		code = runInspectCommand(*rpcURL, *authToken, args[1:])
	case "approve":
		code = runActorCommand(*rpcURL, *authToken, "escrow_approve", "approve", args[1:])
	case "finalize":
		code = runActorCommand(*rpcURL, *authToken, "escrow_finalize", "finalize", args[1:])
	case "cancel":
		code = runActorCommand(*rpcURL, *authToken, "escrow_cancel", "cancel", args[1:])
	case "listing":
		code = runListingCommand(*rpcURL, *authToken, args[1:])
	case "balance":
		code = runBalanceCommand(*rpcURL, *authToken)
	case "parties":
		code = runPartiesCommand(*rpcURL, *authToken)
	case "deed":
		code = runDeedCommand(*rpcURL, *authToken, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, usage())
		code = 1
	}
	if code != 0 {
		os.Exit(code)
	}
}

func runListCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	caller := fs.String("caller", "", "seller Bech32 address")
	tokenID := fs.Uint64("token", 0, "deed token identifier")
	buyer := fs.String("buyer", "", "buyer Bech32 address")
	price := fs.String("price", "", "purchase price in base units")
	escrowAmount := fs.String("escrow", "", "required down payment in base units")
	fs.Parse(args)
	if strings.TrimSpace(*caller) == "" {
		fmt.Fprintln(os.Stderr, "--caller is required")
		return 1
	}
	if *tokenID == 0 {
		fmt.Fprintln(os.Stderr, "--token is required")
		return 1
	}
	if strings.TrimSpace(*buyer) == "" {
		fmt.Fprintln(os.Stderr, "--buyer is required")
		return 1
	}
	if strings.TrimSpace(*price) == "" {
		fmt.Fprintln(os.Stderr, "--price is required")
		return 1
	}
	params := []interface{}{map[string]interface{}{
		"caller":        strings.TrimSpace(*caller),
		"tokenId":       *tokenID,
		"buyer":         strings.TrimSpace(*buyer),
		"purchasePrice": strings.TrimSpace(*price),
		"escrowAmount":  strings.TrimSpace(*escrowAmount),
	}}
	result, rpcErr, err := callRPC(rpcURL, auth, "escrow_list", params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	var listing listingResult
	if err := json.Unmarshal(result, &listing); err != nil {
		fmt.Fprintf(os.Stderr, "decode listing response: %v\n", err)
		return 1
	}
	if err := printJSON(listing); err != nil {
		fmt.Fprintf(os.Stderr, "print response: %v\n", err)
		return 1
	}
	return 0
}

func runFundCommand(rpcURL, auth, method, name string, args []string) int {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	tokenID := fs.Uint64("token", 0, "deed token identifier")
	from := fs.String("from", "", "sender Bech32 address")
	amount := fs.String("amount", "", "amount in base units")
	fs.Parse(args)
	if *tokenID == 0 {
		fmt.Fprintln(os.Stderr, "--token is required")
		return 1
	}
	if strings.TrimSpace(*from) == "" {
		fmt.Fprintln(os.Stderr, "--from is required")
		return 1
	}
	if strings.TrimSpace(*amount) == "" {
		fmt.Fprintln(os.Stderr, "--amount is required")
		return 1
	}
	params := []interface{}{map[string]interface{}{
		"tokenId": *tokenID,
		"from":    strings.TrimSpace(*from),
		"amount":  strings.TrimSpace(*amount),
	}}
	_, rpcErr, err := callRPC(rpcURL, auth, method, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	fmt.Printf("Funds credited to escrow for token %d.\n", *tokenID)
	return 0
}

func runInspectCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	tokenID := fs.Uint64("token", 0, "deed token identifier")
	caller := fs.String("caller", "", "inspector Bech32 address")
	passed := fs.Bool("passed", false, "inspection outcome")
	fs.Parse(args)
	if *tokenID == 0 {
		fmt.Fprintln(os.Stderr, "--token is required")
		return 1
	}
	if strings.TrimSpace(*caller) == "" {
		fmt.Fprintln(os.Stderr, "--caller is required")
		return 1
	}
	params := []interface{}{map[string]interface{}{
		"tokenId": *tokenID,
		"caller":  strings.TrimSpace(*caller),
		"passed":  *passed,
	}}
	_, rpcErr, err := callRPC(rpcURL, auth, "escrow_setInspection", params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	fmt.Printf("Inspection status for token %d set to %t.\n", *tokenID, *passed)
	return 0
}

func runActorCommand(rpcURL, auth, method, name string, args []string) int {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	tokenID := fs.Uint64("token", 0, "deed token identifier")
	caller := fs.String("caller", "", "caller Bech32 address")
	fs.Parse(args)
	if *tokenID == 0 {
		fmt.Fprintln(os.Stderr, "--token is required")
		return 1
	}
	if strings.TrimSpace(*caller) == "" {
		fmt.Fprintln(os.Stderr, "--caller is required")
		return 1
	}
	params := []interface{}{map[string]interface{}{
		"tokenId": *tokenID,
		"caller":  strings.TrimSpace(*caller),
	}}
	_, rpcErr, err := callRPC(rpcURL, auth, method, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	fmt.Printf("%s submitted for token %d.\n", name, *tokenID)
	return 0
}

func runListingCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("listing", flag.ExitOnError)
	tokenID := fs.Uint64("token", 0, "deed token identifier")
	fs.Parse(args)
	if *tokenID == 0 {
		fmt.Fprintln(os.Stderr, "--token is required")
		return 1
	}
	params := []interface{}{map[string]interface{}{"tokenId": *tokenID}}
	result, rpcErr, err := callRPC(rpcURL, auth, "escrow_getListing", params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	var listing listingResult
	if err := json.Unmarshal(result, &listing); err != nil {
		fmt.Fprintf(os.Stderr, "decode listing response: %v\n", err)
		return 1
	}
	if err := printJSON(listing); err != nil {
		fmt.Fprintf(os.Stderr, "print response: %v\n", err)
		return 1
	}
	return 0
}

func runBalanceCommand(rpcURL, auth string) int {
	result, rpcErr, err := callRPC(rpcURL, auth, "escrow_getBalance", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	var balance balanceResult
	if err := json.Unmarshal(result, &balance); err != nil {
		fmt.Fprintf(os.Stderr, "decode balance response: %v\n", err)
		return 1
	}
	fmt.Printf("Escrow vault balance: %s\n", balance.Balance)
	return 0
}

func runPartiesCommand(rpcURL, auth string) int {
	result, rpcErr, err := callRPC(rpcURL, auth, "escrow_getParties", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	var parties partiesResult
	if err := json.Unmarshal(result, &parties); err != nil {
		fmt.Fprintf(os.Stderr, "decode parties response: %v\n", err)
		return 1
	}
	if err := printJSON(parties); err != nil {
		fmt.Fprintf(os.Stderr, "print response: %v\n", err)
		return 1
	}
	return 0
}

func runDeedCommand(rpcURL, auth string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: deed <mint|get|owner|transfer> [options]")
		return 1
	}
	switch args[0] {
	case "mint":
		fs := flag.NewFlagSet("deed mint", flag.ExitOnError)
		caller := fs.String("caller", "", "registrar Bech32 address")
		owner := fs.String("owner", "", "initial owner Bech32 address")
		uri := fs.String("uri", "", "metadata URI for the property record")
		fs.Parse(args[1:])
		if strings.TrimSpace(*caller) == "" {
			fmt.Fprintln(os.Stderr, "--caller is required")
			return 1
		}
		if strings.TrimSpace(*owner) == "" {
			fmt.Fprintln(os.Stderr, "--owner is required")
			return 1
		}
		params := []interface{}{map[string]interface{}{
			"caller": strings.TrimSpace(*caller),
			"owner":  strings.TrimSpace(*owner),
			"uri":    strings.TrimSpace(*uri),
		}}
		result, rpcErr, err := callRPC(rpcURL, auth, "deed_mint", params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
			return 1
		}
		if rpcErr != nil {
			printRPCError(rpcErr)
			return 1
		}
		var minted deedResult
		if err := json.Unmarshal(result, &minted); err != nil {
			fmt.Fprintf(os.Stderr, "decode deed response: %v\n", err)
			return 1
		}
		fmt.Printf("Deed minted with token id %d\n", minted.TokenID)
		return 0
	case "get":
		fs := flag.NewFlagSet("deed get", flag.ExitOnError)
		tokenID := fs.Uint64("token", 0, "deed token identifier")
		fs.Parse(args[1:])
		if *tokenID == 0 {
			fmt.Fprintln(os.Stderr, "--token is required")
			return 1
		}
		params := []interface{}{map[string]interface{}{"tokenId": *tokenID}}
		result, rpcErr, err := callRPC(rpcURL, auth, "deed_get", params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
			return 1
		}
		if rpcErr != nil {
			printRPCError(rpcErr)
			return 1
		}
		var record deedResult
		if err := json.Unmarshal(result, &record); err != nil {
			fmt.Fprintf(os.Stderr, "decode deed response: %v\n", err)
			return 1
		}
		if err := printJSON(record); err != nil {
			fmt.Fprintf(os.Stderr, "print response: %v\n", err)
			return 1
		}
		return 0
	case "owner":
		fs := flag.NewFlagSet("deed owner", flag.ExitOnError)
		tokenID := fs.Uint64("token", 0, "deed token identifier")
		fs.Parse(args[1:])
		if *tokenID == 0 {
			fmt.Fprintln(os.Stderr, "--token is required")
			return 1
		}
		params := []interface{}{map[string]interface{}{"tokenId": *tokenID}}
		result, rpcErr, err := callRPC(rpcURL, auth, "deed_ownerOf", params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
			return 1
		}
		if rpcErr != nil {
			printRPCError(rpcErr)
			return 1
		}
		fmt.Println(strings.Trim(string(result), "\"\n"))
		return 0
	case "transfer":
		fs := flag.NewFlagSet("deed transfer", flag.ExitOnError)
		tokenID := fs.Uint64("token", 0, "deed token identifier")
		caller := fs.String("caller", "", "current owner or approved operator")
		to := fs.String("to", "", "recipient Bech32 address")
		fs.Parse(args[1:])
		if *tokenID == 0 {
			fmt.Fprintln(os.Stderr, "--token is required")
			return 1
		}
		if strings.TrimSpace(*caller) == "" {
			fmt.Fprintln(os.Stderr, "--caller is required")
			return 1
		}
		if strings.TrimSpace(*to) == "" {
			fmt.Fprintln(os.Stderr, "--to is required")
			return 1
		}
		params := []interface{}{map[string]interface{}{
			"tokenId": *tokenID,
			"caller":  strings.TrimSpace(*caller),
			"to":      strings.TrimSpace(*to),
		}}
		_, rpcErr, err := callRPC(rpcURL, auth, "deed_transfer", params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
			return 1
		}
		if rpcErr != nil {
			printRPCError(rpcErr)
			return 1
		}
		fmt.Printf("Deed %d transferred.\n", *tokenID)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown deed subcommand: %s\n", args[0])
		return 1
	}
}

func callRPC(rpcURL, authToken, method string, params []interface{}) (json.RawMessage, *rpcError, error) {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: int(time.Now().UnixNano())}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(authToken) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(authToken))
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	var rpcResp rpcResponse
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, nil, fmt.Errorf("rpc status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error, nil
	}
	return rpcResp.Result, nil, nil
}

func printRPCError(err *rpcError) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "RPC error (%d): %s\n", err.Code, err.Message)
	if len(err.Data) > 0 && string(err.Data) != "null" {
		fmt.Fprintf(os.Stderr, "Details: %s\n", strings.TrimSpace(string(err.Data)))
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func usage() string {
	return "deedctl usage:\n  deedctl [--rpc URL] [--auth TOKEN] <command> [options]\n\nCommands:\n  list --caller S --token N --buyer B --price X [--escrow Y]   Place a deed under escrow\n  deposit --token N --from B --amount X                        Submit the buyer down payment\n  fund-loan --token N --from L --amount X                      Credit lender funds to the escrow\n  inspect --token N --caller I [--passed]                      Record the inspection outcome\n  approve --token N --caller A                                 Approve the sale\n  finalize --token N --caller S                                Finalize and settle the sale\n  cancel --token N --caller A                                  Cancel the listing\n  listing --token N                                            Show a listing snapshot\n  balance                                                      Show the escrow vault balance\n  parties                                                      Show configured party addresses\n  deed <mint|get|owner|transfer> [options]                     Title registry operations\n"
}
