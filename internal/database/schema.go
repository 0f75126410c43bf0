package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    credits INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
    task_id VARCHAR(128) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    mode VARCHAR(16) NOT NULL,
    credits_charged INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_tasks_user (user_id)
);

CREATE TABLE IF NOT EXISTS usage_records (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    task_id VARCHAR(128) NOT NULL,
    mode VARCHAR(16) NOT NULL,
    credits INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_usage_task (task_id),
    KEY idx_usage_user_created (user_id, created_at)
);

CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    order_id VARCHAR(128) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    variant_id VARCHAR(64) NOT NULL,
    credits INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_payment_order (order_id)
);

CREATE TABLE IF NOT EXISTS credit_packs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    variant_id VARCHAR(64) NOT NULL,
    title VARCHAR(255) NOT NULL,
    currency VARCHAR(8) NOT NULL DEFAULT 'USD',
    price_minor_units INT NOT NULL DEFAULT 0,
    credits INT NOT NULL,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_pack_variant (variant_id)
);

CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL,
    discount_type VARCHAR(16) NOT NULL,
    discount_value INT NOT NULL,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    valid_from TIMESTAMP NULL DEFAULT NULL,
    valid_until TIMESTAMP NULL DEFAULT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_promo_code (code)
);

CREATE TABLE IF NOT EXISTS promo_claims (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    promo_code_id BIGINT NOT NULL,
    used TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    used_at TIMESTAMP NULL DEFAULT NULL,
    UNIQUE KEY uniq_user_promo (user_id, promo_code_id)
);

CREATE TABLE IF NOT EXISTS share_links (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(32) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    task_id VARCHAR(128) NOT NULL,
    clicks INT NOT NULL DEFAULT 0,
    reward_given TINYINT(1) NOT NULL DEFAULT 0,
    reward_credits INT NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_share_code (code),
    UNIQUE KEY uniq_share_task (task_id)
);

CREATE TABLE IF NOT EXISTS share_clicks (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    share_link_id BIGINT NOT NULL,
    fingerprint VARCHAR(128) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_link_fingerprint (share_link_id, fingerprint)
);
`
